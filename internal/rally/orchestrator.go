package rally

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ushironoko/rallytui/internal/agent"
	"github.com/ushironoko/rallytui/internal/config"
	"github.com/ushironoko/rallytui/internal/hosting"
	"github.com/ushironoko/rallytui/internal/storage/jsonstore"
)

// RallyEvent is one progress notification emitted while Run drives a
// Session through the state machine. The App Event Loop (C9) drains
// these and re-renders; Err is set only on PhaseFailed.
type RallyEvent struct {
	Phase     Phase
	Iteration int
	Role      Role
	Message   string
	Err       error
}

// DecisionKind is the user's response to a WaitingForClarification or
// WaitingForPermission pause.
type DecisionKind string

const (
	DecisionAnswer  DecisionKind = "answer"
	DecisionApprove DecisionKind = "approve"
	DecisionDeny    DecisionKind = "deny"
	DecisionAbort   DecisionKind = "abort"
)

// Decision is sent by the UI to unblock a paused rally.
type Decision struct {
	Kind DecisionKind
	Text string // the clarifying answer, for DecisionAnswer
}

// Orchestrator drives one rally's Reviewer<->Reviewee iteration loop. Its
// shape — build prompt, invoke the agent, parse and validate the result,
// persist it, decide the next step — follows review/reviewer.go's Review
// method; embedding prior turns' output in the next prompt follows
// review/reply.go's thread-context style.
type Orchestrator struct {
	registry *agent.Registry
	cfg      config.AIConfig
	repoDir  string
	history  *HistoryStore
	shim     hosting.Shim
	repo     string
	prNumber int
	logger   *slog.Logger

	// diffFunc defaults to computeDiff; overridable so callers (and tests)
	// can supply a diff without a real git checkout or hosting shim.
	diffFunc func(ctx context.Context, baseBranch string) (string, error)
}

// NewOrchestrator constructs an Orchestrator for one PR's rally.
func NewOrchestrator(registry *agent.Registry, cfg config.AIConfig, repoDir string, history *HistoryStore, shim hosting.Shim, repo string, prNumber int, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		cfg:      cfg,
		repoDir:  repoDir,
		history:  history,
		shim:     shim,
		repo:     repo,
		prNumber: prNumber,
		logger:   logger,
	}
	o.diffFunc = o.computeDiff
	return o
}

// reviewOutcome is the Reviewer's parsed turn, matching the teacher's
// reviewJSONSchema shape from the claude-analyzer reference.
type reviewOutcome struct {
	Verdict        Verdict
	Body           string
	BlockingIssues []string
	Raw            string
}

// revieweeOutcome is the Reviewee's parsed turn.
type revieweeOutcome struct {
	Status           RevieweeStatus
	Question         string // set when Status == RevieweeNeedsClarification
	PermissionAction string // set when Status == RevieweeNeedsPermission
	PermissionReason string // set when Status == RevieweeNeedsPermission
	ErrorMessage     string // set when Status == RevieweeError
}

// Run drives session through the state machine until it reaches
// PhaseCompleted or PhaseFailed, or ctx is cancelled. decisions supplies
// user responses when the session pauses in PhaseWaitingForClarification
// or PhaseWaitingForPermission; Run blocks on it only in those phases.
// Run returns at once; the returned channel closes once the rally reaches
// PhaseCompleted or PhaseFailed.
func (o *Orchestrator) Run(ctx context.Context, session *Session, decisions <-chan Decision) <-chan RallyEvent {
	events := make(chan RallyEvent, 16)

	go func() {
		defer close(events)
		var diff string
		var resumePhase Phase

		emit := func(role Role, msg string) {
			events <- RallyEvent{Phase: session.Phase, Iteration: session.Iteration, Role: role, Message: msg}
		}
		fail := func(err error) {
			session.Phase = PhaseFailed
			session.FailureReason = err.Error()
			session.UpdatedAt = timeNow()
			o.history.SaveSession(session)
			events <- RallyEvent{Phase: PhaseFailed, Iteration: session.Iteration, Err: err}
		}

		for !session.Terminal() {
			if err := ctx.Err(); err != nil {
				fail(fmt.Errorf("rally cancelled: %w", err))
				return
			}

			switch session.Phase {
			case PhaseInitializing:
				d, err := o.diffFunc(ctx, session.BaseBranch)
				if err != nil {
					fail(fmt.Errorf("compute diff: %w", err))
					return
				}
				diff = d
				if err := jsonstore.SaveContext(o.history.dir, jsonstore.Context{
					Repo:       session.Repo,
					PRNumber:   session.PRNumber,
					BaseBranch: session.BaseBranch,
					Diff:       diff,
					CapturedAt: timeNow(),
				}); err != nil {
					o.logf("failed to persist rally context: %v", err)
				}
				session.Phase = PhaseReviewerReviewing

			case PhaseReviewerReviewing:
				outcome, err := o.runReviewer(ctx, session, diff, emit)
				if err != nil {
					fail(fmt.Errorf("reviewer turn: %w", err))
					return
				}
				rec := IterationRecord{
					Iteration: session.Iteration,
					Role:      RoleReviewer,
					Output:    outcome.Raw,
					Verdict:   outcome.Verdict,
					Timestamp: timeNow(),
				}
				if err := o.history.AppendIteration(rec); err != nil {
					o.logf("failed to persist reviewer iteration: %v", err)
				}
				session.UpdatedAt = timeNow()

				// approve -> done; request_changes, or comment carrying
				// blocking issues, -> the Reviewee attempts a fix; a bare
				// comment with nothing blocking needs no fix.
				switch {
				case outcome.Verdict == VerdictApprove:
					session.Phase = PhaseCompleted
				case outcome.Verdict == VerdictComment && len(outcome.BlockingIssues) == 0:
					session.Phase = PhaseCompleted
				default:
					session.Phase = PhaseRevieweeFixing
				}

			case PhaseRevieweeFixing:
				outcome, err := o.runReviewee(ctx, session, diff, emit)
				session.PendingQuestion = ""
				session.PendingAnswer = ""
				session.PendingPermissionAction = ""
				session.PendingPermissionReason = ""
				if err != nil {
					fail(fmt.Errorf("reviewee turn: %w", err))
					return
				}
				session.UpdatedAt = timeNow()

				switch outcome.Status {
				case RevieweeNeedsClarification:
					session.PendingQuestion = outcome.Question
					resumePhase = PhaseRevieweeFixing
					session.Phase = PhaseWaitingForClarification
					continue
				case RevieweeNeedsPermission:
					session.PendingPermissionAction = outcome.PermissionAction
					session.PendingPermissionReason = outcome.PermissionReason
					resumePhase = PhaseRevieweeFixing
					session.Phase = PhaseWaitingForPermission
					continue
				case RevieweeError:
					fail(fmt.Errorf("reviewee reported an error: %s", outcome.ErrorMessage))
					return
				}

				// RevieweeCompleted: one full review<->fix round is done,
				// advance the iteration counter and loop back to the
				// Reviewer with the freshly applied changes.
				session.Iteration++
				if session.Iteration > session.MaxIterations {
					fail(fmt.Errorf("exceeded max iterations (%d)", session.MaxIterations))
					return
				}
				d, err := o.diffFunc(ctx, session.BaseBranch)
				if err != nil {
					fail(fmt.Errorf("recompute diff: %w", err))
					return
				}
				diff = d
				session.Phase = PhaseReviewerReviewing

			case PhaseWaitingForClarification, PhaseWaitingForPermission:
				events <- RallyEvent{Phase: session.Phase, Iteration: session.Iteration}
				select {
				case <-ctx.Done():
					fail(fmt.Errorf("rally cancelled while waiting for input: %w", ctx.Err()))
					return
				case d, ok := <-decisions:
					if !ok {
						fail(fmt.Errorf("decision channel closed while waiting for input"))
						return
					}
					switch d.Kind {
					case DecisionAbort, DecisionDeny:
						fail(fmt.Errorf("rally aborted by user"))
						return
					case DecisionAnswer:
						session.PendingAnswer = d.Text
						session.Phase = resumePhase
					default:
						session.Phase = resumePhase
					}
				}
			}

			if err := o.history.SaveSession(session); err != nil {
				o.logf("failed to persist session: %v", err)
			}
		}

		if session.Phase == PhaseCompleted {
			events <- RallyEvent{Phase: PhaseCompleted, Iteration: session.Iteration}
		}
	}()

	return events
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(fmt.Sprintf(format, args...))
	}
}

// computeDiff follows spec §4.8's fallback: a local git diff against the
// PR's base branch first, then the hosting shim's PR-diff endpoint if git
// is unavailable or the repo isn't checked out locally.
func (o *Orchestrator) computeDiff(ctx context.Context, baseBranch string) (string, error) {
	if baseBranch == "" {
		baseBranch = "main"
	}
	cmd := exec.CommandContext(ctx, "git", "diff", fmt.Sprintf("origin/%s...HEAD", baseBranch))
	cmd.Dir = o.repoDir
	out, err := cmd.Output()
	if err == nil && len(out) > 0 {
		return string(out), nil
	}
	if o.shim == nil {
		return "", fmt.Errorf("git diff failed and no hosting shim configured: %w", err)
	}
	return o.shim.PRDiff(ctx, o.repo, o.prNumber)
}

func (o *Orchestrator) runReviewer(ctx context.Context, session *Session, diff string, emit func(Role, string)) (*reviewOutcome, error) {
	a, err := o.registry.Get(o.cfg.Reviewer)
	if err != nil {
		return nil, err
	}
	prompt := buildReviewerPrompt(session, diff)

	timeout := time.Duration(o.cfg.TimeoutSecs) * time.Second
	sess, err := a.Spawn(ctx, agent.SpawnOptions{
		WorkDir:         o.repoDir,
		Prompt:          prompt,
		AdditionalTools: o.cfg.ReviewerAdditionalTools,
		Timeout:         timeout,
		APIKeyEnv:       "ANTHROPIC_API_KEY",
		APIKeyValue:     o.cfg.ReviewerAPIKey,
	})
	if err != nil {
		return nil, err
	}
	for e := range sess.Events {
		if e.Kind == agent.EventText || e.Kind == agent.EventToolUse {
			emit(RoleReviewer, e.Text)
		}
	}
	result, err := sess.Wait()
	if err != nil {
		return nil, err
	}
	return parseReviewOutcome(result.Output)
}

// runReviewee spawns the Reviewee with the reviewer's feedback as its
// prompt and parses its status, which per spec drives transitions out of
// PhaseRevieweeFixing directly: "needs_clarification" and
// "needs_permission" are things the Reviewee reports about itself while
// attempting a fix, not something the Reviewer declares.
func (o *Orchestrator) runReviewee(ctx context.Context, session *Session, diff string, emit func(Role, string)) (*revieweeOutcome, error) {
	a, err := o.registry.Get(o.cfg.Reviewee)
	if err != nil {
		return nil, err
	}
	lastReview, _ := LoadIteration(o.history.dir, session.Iteration, RoleReviewer)
	prompt := buildRevieweePrompt(session, diff, lastReview)

	timeout := time.Duration(o.cfg.TimeoutSecs) * time.Second
	sess, err := a.Spawn(ctx, agent.SpawnOptions{
		WorkDir:         o.repoDir,
		Prompt:          prompt,
		AdditionalTools: o.cfg.RevieweeAdditionalTools,
		Timeout:         timeout,
		APIKeyEnv:       "ANTHROPIC_API_KEY",
		APIKeyValue:     o.cfg.RevieweeAPIKey,
	})
	if err != nil {
		return nil, err
	}
	for e := range sess.Events {
		if e.Kind == agent.EventText || e.Kind == agent.EventToolUse {
			emit(RoleReviewee, e.Text)
		}
	}
	result, err := sess.Wait()
	if err != nil {
		return nil, err
	}

	rec := IterationRecord{
		Iteration: session.Iteration,
		Role:      RoleReviewee,
		Output:    result.Output,
		Timestamp: timeNow(),
	}
	if err := o.history.AppendIteration(rec); err != nil {
		o.logf("failed to persist reviewee iteration: %v", err)
	}

	return parseRevieweeOutcome(result.Output), nil
}

func buildReviewerPrompt(session *Session, diff string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing PR #%d in %s, iteration %d.\n\n", session.PRNumber, session.Repo, session.Iteration)
	b.WriteString("Here is the current diff:\n\n")
	b.WriteString(diff)
	b.WriteString("\n\nRespond with ONLY JSON: {\"verdict\": \"approve\"|\"request_changes\"|\"comment\", \"body\": \"...\", \"blocking_issues\": [\"...\"]}. Use \"comment\" with an empty blocking_issues list for feedback that needs no fix.\n")
	return b.String()
}

func buildRevieweePrompt(session *Session, diff string, lastReview *IterationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are addressing review feedback on PR #%d in %s, iteration %d.\n\n", session.PRNumber, session.Repo, session.Iteration)
	if lastReview != nil {
		b.WriteString("Reviewer feedback:\n")
		b.WriteString(lastReview.Output)
		b.WriteString("\n\n")
	}
	if session.PendingAnswer != "" {
		fmt.Fprintf(&b, "You previously asked: %q\nThe reviewer answered: %q\n\n", session.PendingQuestion, session.PendingAnswer)
	}
	if session.PendingPermissionReason != "" {
		fmt.Fprintf(&b, "Permission granted for %q (%s). Proceed with it now.\n\n", session.PendingPermissionAction, session.PendingPermissionReason)
	}
	b.WriteString("Current diff:\n\n")
	b.WriteString(diff)
	b.WriteString("\n\nApply the requested changes. Respond with ONLY JSON:\n")
	b.WriteString("  {\"status\": \"completed\", \"files_modified\": [\"...\"]}\n")
	b.WriteString("  {\"status\": \"needs_clarification\", \"question\": \"...\"} if the feedback is ambiguous\n")
	b.WriteString("  {\"status\": \"needs_permission\", \"action\": \"...\", \"reason\": \"...\"} if a disallowed command is required\n")
	b.WriteString("  {\"status\": \"error\", \"error\": \"...\"} if the fix cannot be applied\n")
	return b.String()
}

func parseReviewOutcome(output string) (*reviewOutcome, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in reviewer output")
	}
	jsonStr := output[start : end+1]
	verdict := Verdict(gjson.Get(jsonStr, "verdict").String())
	if verdict != VerdictApprove && verdict != VerdictRequestChanges && verdict != VerdictComment {
		return nil, fmt.Errorf("reviewer output has invalid verdict %q", verdict)
	}
	var issues []string
	for _, v := range gjson.Get(jsonStr, "blocking_issues").Array() {
		issues = append(issues, v.String())
	}
	return &reviewOutcome{
		Verdict:        verdict,
		Body:           gjson.Get(jsonStr, "body").String(),
		BlockingIssues: issues,
		Raw:            output,
	}, nil
}

// parseRevieweeOutcome reads the Reviewee's status field. Output with no
// recognizable status (plain prose, or a CLI that doesn't emit the
// requested JSON) is treated as RevieweeCompleted rather than an error,
// matching the prior permissive behavior for reviewee turns that just make
// changes without echoing a structured result.
func parseRevieweeOutcome(output string) *revieweeOutcome {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end == -1 || end <= start {
		return &revieweeOutcome{Status: RevieweeCompleted}
	}
	jsonStr := output[start : end+1]
	switch status := RevieweeStatus(gjson.Get(jsonStr, "status").String()); status {
	case RevieweeNeedsClarification:
		return &revieweeOutcome{Status: status, Question: gjson.Get(jsonStr, "question").String()}
	case RevieweeNeedsPermission:
		return &revieweeOutcome{
			Status:           status,
			PermissionAction: gjson.Get(jsonStr, "action").String(),
			PermissionReason: gjson.Get(jsonStr, "reason").String(),
		}
	case RevieweeError:
		return &revieweeOutcome{Status: status, ErrorMessage: gjson.Get(jsonStr, "error").String()}
	default:
		return &revieweeOutcome{Status: RevieweeCompleted}
	}
}
