// Package hosting is the narrow shim over the hosting-platform CLI named in
// spec §6. It is consumed by the Loader (C6) and the Rally Orchestrator
// (C8); the CLI wrapper that actually shells out is explicitly out of
// scope, but the interface it must satisfy — and a REST-backed
// implementation usable wherever the hosting CLI is also reachable over
// the platform's API — lives here, grounded on the teacher's
// github/client.go and github/graphql.go.
package hosting

import (
	"context"
	"time"
)

// Metadata is a PR's metadata record.
type Metadata struct {
	Title      string
	BaseBranch string
	HeadSHA    string
	UpdatedAt  time.Time
}

// File is one changed file in a PR's file list.
type File struct {
	Path         string
	Status       string // "added", "removed", "renamed", "modified"
	Additions    int
	Deletions    int
	LanguageHint string
}

// Comment mirrors cache.Comment at the shim boundary; the loader converts
// between the two so the hosting package has no dependency on the cache
// package.
type Comment struct {
	ID     int64
	Path   string
	Line   int
	Body   string
	Author string
}

// InlineComment is a comment to submit alongside a review.
type InlineComment struct {
	Path string
	Line int
	Body string
}

// ReviewAction is the action accompanying a submitted review.
type ReviewAction string

const (
	Approve        ReviewAction = "approve"
	RequestChanges ReviewAction = "request_changes"
	CommentAction  ReviewAction = "comment"
)

// Shim is the narrow contract the core consumes. Implementations may talk
// to a REST API, a GraphQL API, or shell out to a CLI; the core does not
// care which.
type Shim interface {
	ListPRMetadata(ctx context.Context, repo string, pr int) (*Metadata, error)
	ListChangedFiles(ctx context.Context, repo string, pr int) ([]File, error)
	GetPatch(ctx context.Context, repo string, pr int, file string) (string, error)
	ListReviewComments(ctx context.Context, repo string, pr int) ([]Comment, error)
	ListDiscussionComments(ctx context.Context, repo string, pr int) ([]Comment, error)
	SubmitReview(ctx context.Context, repo string, pr int, body string, action ReviewAction, inline []InlineComment) error
	PRDiff(ctx context.Context, repo string, pr int) (string, error)
}
