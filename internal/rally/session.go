// Package rally implements the Rally Orchestrator (spec component C8):
// the Reviewer<->Reviewee iteration state machine, its per-iteration diff
// computation, and its history persistence. The orchestration shape —
// build prompt, invoke the agent, parse and validate its output, persist
// it, decide the next step — is grounded on review/reviewer.go's Review
// method; per-iteration thread-context embedding follows review/reply.go.
package rally

import "time"

// Phase is one state in the rally state machine.
type Phase string

const (
	PhaseInitializing            Phase = "initializing"
	PhaseReviewerReviewing       Phase = "reviewer_reviewing"
	PhaseRevieweeFixing          Phase = "reviewee_fixing"
	PhaseWaitingForClarification Phase = "waiting_for_clarification"
	PhaseWaitingForPermission    Phase = "waiting_for_permission"
	PhaseCompleted               Phase = "completed"
	PhaseFailed                  Phase = "failed"
)

// Role identifies which side of a rally produced an IterationRecord.
type Role string

const (
	RoleReviewer Role = "reviewer"
	RoleReviewee Role = "reviewee"
)

// Verdict is the Reviewer's per-iteration action.
type Verdict string

const (
	VerdictApprove        Verdict = "approve"
	VerdictRequestChanges Verdict = "request_changes"
	VerdictComment        Verdict = "comment"
)

// RevieweeStatus is the Reviewee's per-invocation outcome. Unlike Verdict,
// this drives transitions out of PhaseRevieweeFixing, not
// PhaseReviewerReviewing: clarification and permission requests originate
// from the Reviewee trying to apply a fix, never from the Reviewer.
type RevieweeStatus string

const (
	RevieweeCompleted          RevieweeStatus = "completed"
	RevieweeNeedsClarification RevieweeStatus = "needs_clarification"
	RevieweeNeedsPermission    RevieweeStatus = "needs_permission"
	RevieweeError              RevieweeStatus = "error"
)

// IterationRecord is one persisted reviewer or reviewee turn.
type IterationRecord struct {
	Iteration int       `json:"iteration"`
	Role      Role      `json:"role"`
	Prompt    string    `json:"prompt"`
	Output    string    `json:"output"`
	Verdict   Verdict   `json:"verdict,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the full in-memory state of one rally, serializable to
// session.json per spec §6.
type Session struct {
	Repo          string            `json:"repo"`
	PRNumber      int               `json:"pr_number"`
	BaseBranch    string            `json:"base_branch"`
	Phase         Phase             `json:"phase"`
	Iteration     int               `json:"iteration"`
	MaxIterations int               `json:"max_iterations"`
	StartedAt     time.Time         `json:"started_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	History       []IterationRecord `json:"-"` // persisted separately, one file per iteration
	FailureReason string            `json:"failure_reason,omitempty"`

	// Pending* carry the Reviewee's WaitingForClarification/
	// WaitingForPermission request across the pause, so the re-invocation
	// that follows a user decision can embed it in the Reviewee's prompt.
	// Cleared once that re-invocation runs.
	PendingQuestion         string `json:"pending_question,omitempty"`
	PendingAnswer           string `json:"pending_answer,omitempty"`
	PendingPermissionAction string `json:"pending_permission_action,omitempty"`
	PendingPermissionReason string `json:"pending_permission_reason,omitempty"`
}

// NewSession constructs a fresh Session in PhaseInitializing at iteration
// 1; iterations are counted from 1.
func NewSession(repo string, prNumber int, baseBranch string, maxIterations int) *Session {
	now := timeNow()
	return &Session{
		Repo:          repo,
		PRNumber:      prNumber,
		BaseBranch:    baseBranch,
		Phase:         PhaseInitializing,
		Iteration:     1,
		MaxIterations: maxIterations,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// Terminal reports whether the session has reached a non-resumable phase.
func (s *Session) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseFailed
}

// timeNow is a seam so Session construction doesn't hard-code time.Now,
// keeping it substitutable in tests without a clock-injection interface.
var timeNow = time.Now
