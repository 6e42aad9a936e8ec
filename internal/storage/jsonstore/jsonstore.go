// Package jsonstore owns the on-disk layout for one rally session: the
// sanitised "<repo>_<pr>" directory name, its session.json/context.json/
// history//logs subtree, and the read/write of context.json. session.json
// and history/NNN_*.json themselves are written by internal/rally.HistoryStore,
// which takes the directory this package resolves; jsonstore's job is just
// getting callers to agree on where that directory is and what "initial
// context" means, since unlike session/iteration records, a rally's starting
// diff and PR metadata are a pure snapshot with nothing state-machine-shaped
// about them.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Context is the read-only snapshot persisted as context.json when a rally
// starts: the PR metadata and initial diff the Reviewer's first turn saw.
type Context struct {
	Repo       string    `json:"repo"`
	PRNumber   int       `json:"pr_number"`
	Title      string    `json:"title"`
	BaseBranch string    `json:"base_branch"`
	HeadSHA    string    `json:"head_sha"`
	Diff       string    `json:"diff"`
	CapturedAt time.Time `json:"captured_at"`
}

// sanitizeRepo validates a repo slug before it becomes a directory path
// component, per the PR Identity rule: reject if it contains a path
// separator, parent-directory element, or non-printable byte. The one "/"
// splitting owner from name is the sole exception, and is folded into "_"
// once validated rather than left as a separator.
func sanitizeRepo(repo string) (string, error) {
	for _, r := range repo {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("repo slug %q contains a non-printable byte", repo)
		}
	}
	if strings.Contains(repo, "..") {
		return "", fmt.Errorf("repo slug %q contains a parent-directory element", repo)
	}
	if strings.ContainsAny(repo, `\:`) {
		return "", fmt.Errorf("repo slug %q contains a path separator", repo)
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("repo slug %q is not in \"owner/name\" form", repo)
	}
	return parts[0] + "_" + parts[1], nil
}

// SessionDir returns the per-rally directory "<baseDir>/<sanitised-repo>_<pr>"
// named in the persistence layout, rejecting a malformed repo slug rather
// than silently mangling it.
func SessionDir(baseDir, repo string, pr int) (string, error) {
	sanitized, err := sanitizeRepo(repo)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, fmt.Sprintf("%s_%d", sanitized, pr)), nil
}

// EnsureLayout creates dir and its history/ and logs/ subdirectories.
func EnsureLayout(dir string) error {
	for _, sub := range []string{"", "history", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Join(dir, sub), err)
		}
	}
	return nil
}

// SaveContext writes context.json under dir.
func SaveContext(dir string, ctx Context) error {
	if err := EnsureLayout(dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	path := filepath.Join(dir, "context.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadContext reads a previously persisted context.json.
func LoadContext(dir string) (*Context, error) {
	data, err := os.ReadFile(filepath.Join(dir, "context.json"))
	if err != nil {
		return nil, fmt.Errorf("read context.json: %w", err)
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse context.json: %w", err)
	}
	return &c, nil
}

// HistorySubdir returns the history/ directory under a session dir, the
// path internal/rally.HistoryStore writes iteration records into.
func HistorySubdir(dir string) string {
	return filepath.Join(dir, "history")
}

// LogsSubdir returns the logs/ directory under a session dir, the path
// internal/rallylog.OpenRallyLog writes into.
func LogsSubdir(dir string) string {
	return filepath.Join(dir, "logs")
}
