package rally

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ushironoko/rallytui/internal/storage/jsonstore"
)

// historyFileName returns the spec §6 file name for iteration n's role:
// "NNN_review.json" or "NNN_fix.json". Iterations count from 1, so a
// rally's first files are 001_review.json and 001_fix.json.
func historyFileName(iteration int, role Role) string {
	suffix := "review"
	if role == RoleReviewee {
		suffix = "fix"
	}
	return fmt.Sprintf("%03d_%s.json", iteration, suffix)
}

// HistoryStore persists IterationRecords and the session summary to a
// flat JSON-file layout under dir, following review/reviewer.go's
// "build, persist, continue" discipline but targeting plain files instead
// of storage.Storage, since §6 specifies a JSON file layout rather than a
// database for rally history.
type HistoryStore struct {
	dir string
}

// NewHistoryStore constructs a HistoryStore rooted at dir. dir is created
// on first write if it does not already exist.
func NewHistoryStore(dir string) *HistoryStore {
	return &HistoryStore{dir: dir}
}

// AppendIteration persists one IterationRecord to its own file under
// history/, per the persistence layout's history/NNN_{review,fix}.json.
func (h *HistoryStore) AppendIteration(rec IterationRecord) error {
	if err := jsonstore.EnsureLayout(h.dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal iteration record: %w", err)
	}
	path := filepath.Join(jsonstore.HistorySubdir(h.dir), historyFileName(rec.Iteration, rec.Role))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// SaveSession writes the session summary to session.json.
func (h *HistoryStore) SaveSession(s *Session) error {
	if err := jsonstore.EnsureLayout(h.dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	path := filepath.Join(h.dir, "session.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadSession reads a previously persisted session.json. Per the
// rally-resume open question (DESIGN.md), this is read-only: a loaded
// Session is for display and history inspection, not for re-entering the
// state machine mid-rally.
func LoadSession(dir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return nil, fmt.Errorf("read session.json: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session.json: %w", err)
	}
	return &s, nil
}

// LoadIteration reads one previously persisted iteration record.
func LoadIteration(dir string, iteration int, role Role) (*IterationRecord, error) {
	path := filepath.Join(jsonstore.HistorySubdir(dir), historyFileName(iteration, role))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rec IterationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &rec, nil
}
