package rally

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ushironoko/rallytui/internal/agent"
	"github.com/ushironoko/rallytui/internal/config"
)

// fakeAdapter returns one fixed Result per Spawn call (cycling through
// outputs), bypassing an actual subprocess so the orchestrator's state
// machine can be exercised without a real agent CLI.
type fakeAdapter struct {
	name    string
	outputs []string
	calls   int
	prompts []string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Spawn(ctx context.Context, opts agent.SpawnOptions) (*agent.Session, error) {
	out := f.outputs[f.calls%len(f.outputs)]
	f.calls++
	f.prompts = append(f.prompts, opts.Prompt)
	return agent.NewFinishedSession(agent.Result{Output: out}, nil), nil
}

func historyDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rally-history-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newTestOrchestrator(registry *agent.Registry, cfg config.AIConfig, dir string) *Orchestrator {
	o := NewOrchestrator(registry, cfg, dir, NewHistoryStore(dir), nil, "o/r", 1, nil)
	o.diffFunc = func(ctx context.Context, baseBranch string) (string, error) {
		return "@@ -1,1 +1,1 @@\n-x\n+y\n", nil
	}
	return o
}

func TestRunApprovesImmediately(t *testing.T) {
	reviewer := &fakeAdapter{name: "claude", outputs: []string{`{"verdict":"approve","body":"looks good"}`}}
	registry := agent.NewRegistry(reviewer)
	cfg := config.AIConfig{Reviewer: "claude", Reviewee: "claude", MaxIterations: 3, TimeoutSecs: 5}
	o := newTestOrchestrator(registry, cfg, historyDir(t))

	session := NewSession("o/r", 1, "main", 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var last RallyEvent
	for ev := range o.Run(ctx, session, nil) {
		last = ev
	}
	if session.Phase != PhaseCompleted {
		t.Fatalf("Phase = %s, want %s", session.Phase, PhaseCompleted)
	}
	if last.Phase != PhaseCompleted {
		t.Errorf("last event Phase = %s, want %s", last.Phase, PhaseCompleted)
	}
}

func TestRunFailsAfterMaxIterations(t *testing.T) {
	reviewer := &fakeAdapter{name: "claude", outputs: []string{`{"verdict":"request_changes","body":"fix this"}`}}
	reviewee := &fakeAdapter{name: "codex", outputs: []string{`{"summary":"fixed"}`}}
	registry := agent.NewRegistry(reviewer, reviewee)
	cfg := config.AIConfig{Reviewer: "claude", Reviewee: "codex", MaxIterations: 2, TimeoutSecs: 5}
	o := newTestOrchestrator(registry, cfg, historyDir(t))

	session := NewSession("o/r", 1, "main", 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for range o.Run(ctx, session, nil) {
	}
	if session.Phase != PhaseFailed {
		t.Fatalf("Phase = %s, want %s", session.Phase, PhaseFailed)
	}
}

// TestRunPausesForClarificationThenResumes exercises a Reviewee-originated
// clarification: the Reviewee, not the Reviewer, is the one that reports
// needs_clarification while attempting a fix. The pause resumes back into
// PhaseRevieweeFixing (re-invoking the Reviewee with the answer embedded),
// and the iteration counter only advances once that re-invocation reports
// completed.
func TestRunPausesForClarificationThenResumes(t *testing.T) {
	reviewer := &fakeAdapter{name: "claude", outputs: []string{
		`{"verdict":"request_changes","body":"needs work"}`,
		`{"verdict":"approve","body":"ok now"}`,
	}}
	reviewee := &fakeAdapter{name: "codex", outputs: []string{
		`{"status":"needs_clarification","question":"which module do you mean?"}`,
		`{"status":"completed","files_modified":["a.go"]}`,
	}}
	registry := agent.NewRegistry(reviewer, reviewee)
	cfg := config.AIConfig{Reviewer: "claude", Reviewee: "codex", MaxIterations: 3, TimeoutSecs: 5}
	o := newTestOrchestrator(registry, cfg, historyDir(t))

	session := NewSession("o/r", 1, "main", 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	decisions := make(chan Decision, 1)
	events := o.Run(ctx, session, decisions)

	sawWaiting := false
	for ev := range events {
		if ev.Phase == PhaseWaitingForClarification {
			sawWaiting = true
			decisions <- Decision{Kind: DecisionAnswer, Text: "the cache module"}
		}
	}
	if !sawWaiting {
		t.Fatal("expected a PhaseWaitingForClarification event")
	}
	if session.Phase != PhaseCompleted {
		t.Fatalf("Phase = %s, want %s", session.Phase, PhaseCompleted)
	}
	if session.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2: it must not advance on the pause itself, only on the Reviewee's subsequent completed turn", session.Iteration)
	}
	if len(reviewee.prompts) != 2 {
		t.Fatalf("reviewee was spawned %d times, want 2", len(reviewee.prompts))
	}
	if !strings.Contains(reviewee.prompts[1], "the cache module") {
		t.Errorf("second reviewee prompt does not embed the clarification answer: %q", reviewee.prompts[1])
	}
}

// TestRunReviewerCommentWithBlockingIssuesRequiresFix exercises the
// Reviewer's third verdict, "comment": when it carries blocking issues the
// Reviewee still needs to act on it, same as request_changes.
func TestRunReviewerCommentWithBlockingIssuesRequiresFix(t *testing.T) {
	reviewer := &fakeAdapter{name: "claude", outputs: []string{
		`{"verdict":"comment","body":"nit","blocking_issues":["fix typo"]}`,
		`{"verdict":"approve","body":"done"}`,
	}}
	reviewee := &fakeAdapter{name: "codex", outputs: []string{`{"status":"completed"}`}}
	registry := agent.NewRegistry(reviewer, reviewee)
	cfg := config.AIConfig{Reviewer: "claude", Reviewee: "codex", MaxIterations: 3, TimeoutSecs: 5}
	o := newTestOrchestrator(registry, cfg, historyDir(t))

	session := NewSession("o/r", 1, "main", 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for range o.Run(ctx, session, nil) {
	}
	if session.Phase != PhaseCompleted {
		t.Fatalf("Phase = %s, want %s", session.Phase, PhaseCompleted)
	}
	if session.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", session.Iteration)
	}
}

// TestRunReviewerCommentWithNoBlockingIssuesCompletes exercises the other
// branch of "comment": with no blocking issues it needs no fix and ends the
// rally immediately, same as approve.
func TestRunReviewerCommentWithNoBlockingIssuesCompletes(t *testing.T) {
	reviewer := &fakeAdapter{name: "claude", outputs: []string{`{"verdict":"comment","body":"looks fine","blocking_issues":[]}`}}
	registry := agent.NewRegistry(reviewer)
	cfg := config.AIConfig{Reviewer: "claude", Reviewee: "claude", MaxIterations: 3, TimeoutSecs: 5}
	o := newTestOrchestrator(registry, cfg, historyDir(t))

	session := NewSession("o/r", 1, "main", 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for range o.Run(ctx, session, nil) {
	}
	if session.Phase != PhaseCompleted {
		t.Fatalf("Phase = %s, want %s", session.Phase, PhaseCompleted)
	}
	if session.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1: a non-blocking comment needs no reviewee turn", session.Iteration)
	}
}

func TestParseReviewOutcomeRejectsInvalidVerdict(t *testing.T) {
	_, err := parseReviewOutcome(`{"verdict":"maybe","body":"unsure"}`)
	if err == nil {
		t.Error("expected an error for an invalid verdict")
	}
}

func TestParseReviewOutcomeExtractsFromSurroundingText(t *testing.T) {
	out, err := parseReviewOutcome("Here is my verdict:\n{\"verdict\":\"approve\",\"body\":\"ok\"}\nThanks.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict != VerdictApprove {
		t.Errorf("Verdict = %s, want %s", out.Verdict, VerdictApprove)
	}
}

func TestHistoryStoreRoundTrip(t *testing.T) {
	dir := historyDir(t)
	h := NewHistoryStore(dir)
	rec := IterationRecord{Iteration: 1, Role: RoleReviewer, Output: "ok", Verdict: VerdictApprove}
	if err := h.AppendIteration(rec); err != nil {
		t.Fatalf("AppendIteration: %v", err)
	}
	got, err := LoadIteration(dir, 1, RoleReviewer)
	if err != nil {
		t.Fatalf("LoadIteration: %v", err)
	}
	if got.Output != "ok" || got.Verdict != VerdictApprove {
		t.Errorf("got %+v, want Output=ok Verdict=approve", got)
	}

	s := NewSession("o/r", 1, "main", 5)
	s.Phase = PhaseCompleted
	if err := h.SaveSession(s); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	loaded, err := LoadSession(dir)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.Phase != PhaseCompleted {
		t.Errorf("loaded.Phase = %s, want %s", loaded.Phase, PhaseCompleted)
	}
}
