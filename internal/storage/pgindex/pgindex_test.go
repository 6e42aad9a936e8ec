package pgindex

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newTestIndex(t *testing.T) (*Index, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestUpsertSession(t *testing.T) {
	idx, mock := newTestIndex(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rally_sessions")).
		WithArgs("o/r", 1, "completed", 2, "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := idx.UpsertSession(context.Background(), SessionRecord{
		Repo: "o/r", PRNumber: 1, Phase: "completed", Iteration: 2, StartedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListSessionsForRepo(t *testing.T) {
	idx, mock := newTestIndex(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"repo", "pr_number", "phase", "iteration", "failure_reason", "started_at", "updated_at"}).
		AddRow("o/r", 1, "failed", 3, "exceeded max iterations", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM rally_sessions WHERE repo")).WithArgs("o/r").WillReturnRows(rows)

	recs, err := idx.ListSessionsForRepo(context.Background(), "o/r")
	if err != nil {
		t.Fatalf("ListSessionsForRepo: %v", err)
	}
	if len(recs) != 1 || recs[0].FailureReason != "exceeded max iterations" {
		t.Errorf("unexpected records: %+v", recs)
	}
}

func TestSearchByPhase(t *testing.T) {
	idx, mock := newTestIndex(t)
	rows := sqlmock.NewRows([]string{"repo", "pr_number", "phase", "iteration", "failure_reason", "started_at", "updated_at"})
	mock.ExpectQuery(regexp.QuoteMeta("FROM rally_sessions WHERE phase")).WithArgs("failed").WillReturnRows(rows)

	recs, err := idx.SearchByPhase(context.Background(), "failed")
	if err != nil {
		t.Fatalf("SearchByPhase: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}
