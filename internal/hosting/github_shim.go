// GitHubShim implements Shim against the real GitHub REST API, grounded on
// github/client.go's request/response shape (context-scoped requests,
// status-code checks, wrapped errors) but built on go-github's typed client
// instead of the teacher's raw net/http calls. The teacher authenticates as
// a GitHub App installation via ghinstallation; that has no home here since
// this is a single-user terminal tool rather than a webhook server, so
// GitHubShim authenticates with a plain personal access token instead (see
// DESIGN.md's entry on ghinstallation/golang-jwt for why those two teacher
// deps were dropped rather than adapted).
package hosting

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

// GitHubShim is a Shim backed by the GitHub REST API.
type GitHubShim struct {
	client *github.Client
}

// NewGitHubShim builds a Shim authenticating with a personal access token.
// An empty token still produces a working (rate-limited, read-only-scope)
// client, matching go-github's own zero-value-friendly behavior.
func NewGitHubShim(token string) *GitHubShim {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubShim{client: client}
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: want \"owner/name\"", repo)
	}
	return parts[0], parts[1], nil
}

func (g *GitHubShim) ListPRMetadata(ctx context.Context, repo string, pr int) (*Metadata, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	p, _, err := g.client.PullRequests.Get(ctx, owner, name, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull request %s#%d: %w", repo, pr, err)
	}
	meta := &Metadata{Title: p.GetTitle()}
	if base := p.GetBase(); base != nil {
		meta.BaseBranch = base.GetRef()
	}
	if head := p.GetHead(); head != nil {
		meta.HeadSHA = head.GetSHA()
	}
	if p.UpdatedAt != nil {
		meta.UpdatedAt = p.UpdatedAt.Time
	}
	return meta, nil
}

func (g *GitHubShim) ListChangedFiles(ctx context.Context, repo string, pr int) ([]File, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	files, err := g.listAllFiles(ctx, owner, name, pr)
	if err != nil {
		return nil, err
	}
	out := make([]File, len(files))
	for i, f := range files {
		out[i] = File{
			Path:      f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		}
	}
	return out, nil
}

// listAllFiles pages through PullRequests.ListFiles, following the
// teacher's style of checking resp.StatusCode generalized to go-github's
// resp.NextPage pagination convention.
func (g *GitHubShim) listAllFiles(ctx context.Context, owner, name string, pr int) ([]*github.CommitFile, error) {
	var all []*github.CommitFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, owner, name, pr, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list files for %s#%d: %w", owner+"/"+name, pr, err)
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetPatch returns one file's unified-diff patch. The PR-files endpoint is
// the only place GitHub exposes per-file patches, so this re-lists files
// and picks out the match; callers needing many files in one PR should
// prefer ListChangedFiles plus their own indexing where patch content is
// cheap to retain, but the Shim contract asks for one file at a time.
func (g *GitHubShim) GetPatch(ctx context.Context, repo string, pr int, file string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	files, err := g.listAllFiles(ctx, owner, name, pr)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.GetFilename() == file {
			return f.GetPatch(), nil
		}
	}
	return "", fmt.Errorf("file %q not found in pull request %s#%d", file, repo, pr)
}

func (g *GitHubShim) ListReviewComments(ctx context.Context, repo string, pr int) ([]Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var all []Comment
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := g.client.PullRequests.ListComments(ctx, owner, name, pr, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list review comments for %s#%d: %w", repo, pr, err)
		}
		for _, c := range comments {
			all = append(all, Comment{
				ID:     c.GetID(),
				Path:   c.GetPath(),
				Line:   c.GetLine(),
				Body:   c.GetBody(),
				Author: c.GetUser().GetLogin(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubShim) ListDiscussionComments(ctx context.Context, repo string, pr int) ([]Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var all []Comment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := g.client.Issues.ListComments(ctx, owner, name, pr, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list discussion comments for %s#%d: %w", repo, pr, err)
		}
		for _, c := range comments {
			all = append(all, Comment{ID: c.GetID(), Body: c.GetBody(), Author: c.GetUser().GetLogin()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubShim) SubmitReview(ctx context.Context, repo string, pr int, body string, action ReviewAction, inline []InlineComment) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	event, err := reviewEvent(action)
	if err != nil {
		return err
	}
	comments := make([]*github.DraftReviewComment, len(inline))
	for i, c := range inline {
		line := c.Line
		comments[i] = &github.DraftReviewComment{Path: &c.Path, Line: &line, Body: &c.Body}
	}
	req := &github.PullRequestReviewRequest{Body: &body, Event: &event, Comments: comments}
	if _, _, err := g.client.PullRequests.CreateReview(ctx, owner, name, pr, req); err != nil {
		return fmt.Errorf("failed to submit review for %s#%d: %w", repo, pr, err)
	}
	return nil
}

func reviewEvent(action ReviewAction) (string, error) {
	switch action {
	case Approve:
		return "APPROVE", nil
	case RequestChanges:
		return "REQUEST_CHANGES", nil
	case CommentAction:
		return "COMMENT", nil
	default:
		return "", fmt.Errorf("unknown review action %q", action)
	}
}

// PRDiff fetches the whole-PR unified diff via the raw-media-type GET the
// teacher's FetchDiff uses (Accept: application/vnd.github.diff), through
// go-github's equivalent RawOptions helper.
func (g *GitHubShim) PRDiff(ctx context.Context, repo string, pr int) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	diff, _, err := g.client.PullRequests.GetRaw(ctx, owner, name, pr, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("failed to fetch diff for %s#%d: %w", repo, pr, err)
	}
	return diff, nil
}
