// Package loader implements the Loader (spec component C6): it fetches PR
// data and comments from a hosting.Shim in the background and delivers
// results to the UI goroutine over a channel tagged with the PR number,
// so a PR switch can discard in-flight messages belonging to the PR the
// user has since navigated away from.
//
// The fan-out shape — bounded concurrency via a semaphore channel, a
// sync.WaitGroup, and a mutex-guarded result slice — is grounded on the
// teacher's review/context_fetcher.go fetchFileHistories method;
// retryWithBackoff (retry.go) generalizes review/reviewer.go's helper of
// the same name.
package loader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ushironoko/rallytui/internal/cache"
	"github.com/ushironoko/rallytui/internal/hosting"
)

// FetchMode selects how LoadPR populates a PR's data.
type FetchMode int

const (
	// Fresh always fetches metadata, files, and comments in full.
	Fresh FetchMode = iota
	// CheckUpdate first fetches only metadata; if its UpdatedAt matches the
	// caller-supplied prevUpdatedAt, the PR is reported unchanged and no
	// further requests are made.
	CheckUpdate
)

// maxConcurrentFetches bounds how many per-file/comment requests run at
// once, mirroring the teacher's cap of 5 concurrent commit-history fetches.
const maxConcurrentFetches = 5

// resultChanBuffer is the channel buffer depth for Msg delivery; it must
// be large enough that a worker goroutine's send never blocks behind a UI
// goroutine that has already moved on to a different PR.
const resultChanBuffer = 8

// Msg is one delivery on a Loader channel. Exactly one of Data,
// NotModified, or Err is meaningful per message; PR identifies which PR
// number (not key — a Loader is scoped to one repo) this message belongs
// to, so a UI goroutine that has since switched PRs can discard it.
type Msg struct {
	PR          int
	Data        *cache.PRData
	NotModified bool
	Err         error
}

// Loader fetches PR data through a hosting.Shim.
type Loader struct {
	shim   hosting.Shim
	repo   string
	logger *slog.Logger
}

// New constructs a Loader for one repository.
func New(shim hosting.Shim, repo string, logger *slog.Logger) *Loader {
	return &Loader{shim: shim, repo: repo, logger: logger}
}

// LoadPR fetches number's data per mode and returns a channel the caller
// must drain until it closes. On CheckUpdate, if the PR's current
// UpdatedAt equals prevUpdatedAt, a single Msg{NotModified: true} is sent
// and the channel is closed without fetching files or comments.
//
// Per spec §4.6, the UI owns (currentPRNumber, <-chan Msg): on a PR
// switch the UI must stop reading from the old channel and call LoadPR
// again for the new PR. Any message a worker sends for the abandoned PR
// after that point is simply never received — the buffered channel
// absorbs it without blocking the worker goroutine, and it is garbage
// collected once the last reference to the channel is dropped.
func (l *Loader) LoadPR(ctx context.Context, number int, mode FetchMode, prevUpdatedAt time.Time) <-chan Msg {
	out := make(chan Msg, resultChanBuffer)

	go func() {
		defer close(out)

		meta, err := retryWithBackoff(ctx, l.logger, "ListPRMetadata", func() (*hosting.Metadata, error) {
			return l.shim.ListPRMetadata(ctx, l.repo, number)
		})
		if err != nil {
			out <- Msg{PR: number, Err: err}
			return
		}

		if mode == CheckUpdate && meta.UpdatedAt.Equal(prevUpdatedAt) {
			out <- Msg{PR: number, NotModified: true}
			return
		}

		files, err := retryWithBackoff(ctx, l.logger, "ListChangedFiles", func() ([]hosting.File, error) {
			return l.shim.ListChangedFiles(ctx, l.repo, number)
		})
		if err != nil {
			out <- Msg{PR: number, Err: err}
			return
		}

		prFiles, err := l.fetchPatches(ctx, number, files)
		if err != nil {
			out <- Msg{PR: number, Err: err}
			return
		}

		reviewComments, discussionComments, err := l.fetchComments(ctx, number)
		if err != nil {
			out <- Msg{PR: number, Err: err}
			return
		}

		out <- Msg{
			PR: number,
			Data: &cache.PRData{
				Key:                cache.PRKey{Repo: l.repo, Number: number},
				Title:              meta.Title,
				BaseBranch:         meta.BaseBranch,
				HeadSHA:            meta.HeadSHA,
				UpdatedAt:          meta.UpdatedAt,
				Files:              prFiles,
				ReviewComments:     reviewComments,
				DiscussionComments: discussionComments,
			},
		}
	}()

	return out
}

// fetchPatches fetches each changed file's patch, bounded to
// maxConcurrentFetches concurrent requests, preserving files' order.
func (l *Loader) fetchPatches(ctx context.Context, number int, files []hosting.File) ([]cache.PRFile, error) {
	result := make([]cache.PRFile, len(files))
	sem := make(chan struct{}, maxConcurrentFetches)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, f := range files {
		wg.Add(1)
		go func(i int, f hosting.File) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			patch, err := retryWithBackoff(ctx, l.logger, "GetPatch", func() (string, error) {
				return l.shim.GetPatch(ctx, l.repo, number, f.Path)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			result[i] = cache.PRFile{Path: f.Path, Patch: patch, LanguageHint: f.LanguageHint}
		}(i, f)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

// fetchComments fetches review and discussion comments concurrently.
func (l *Loader) fetchComments(ctx context.Context, number int) ([]cache.Comment, []cache.Comment, error) {
	var review, discussion []cache.Comment
	var reviewErr, discussionErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		raw, err := retryWithBackoff(ctx, l.logger, "ListReviewComments", func() ([]hosting.Comment, error) {
			return l.shim.ListReviewComments(ctx, l.repo, number)
		})
		if err != nil {
			reviewErr = err
			return
		}
		review = convertComments(raw, true)
	}()
	go func() {
		defer wg.Done()
		raw, err := retryWithBackoff(ctx, l.logger, "ListDiscussionComments", func() ([]hosting.Comment, error) {
			return l.shim.ListDiscussionComments(ctx, l.repo, number)
		})
		if err != nil {
			discussionErr = err
			return
		}
		discussion = convertComments(raw, false)
	}()
	wg.Wait()

	if reviewErr != nil {
		return nil, nil, reviewErr
	}
	if discussionErr != nil {
		return nil, nil, discussionErr
	}
	return review, discussion, nil
}

func convertComments(raw []hosting.Comment, isThread bool) []cache.Comment {
	out := make([]cache.Comment, len(raw))
	for i, c := range raw {
		out[i] = cache.Comment{
			ID:       c.ID,
			Path:     c.Path,
			Line:     c.Line,
			Body:     c.Body,
			Author:   c.Author,
			IsThread: isThread,
		}
	}
	return out
}
