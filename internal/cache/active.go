package cache

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/ushironoko/rallytui/internal/diffcache"
	"github.com/ushironoko/rallytui/internal/diffmodel"
	"github.com/ushironoko/rallytui/internal/highlight"
)

// BuildResult is what a worker publishes after building a highlighted
// DiffCache. Every field needed to revalidate the stale-message defence
// travels with the result; receivers must discard it if the triple does
// not match the current selection at the time of receipt.
type BuildResult struct {
	PR        PRKey
	FileIndex int
	PatchHash uint64
	Cache     *diffcache.DiffCache
	Err       error
}

// ActiveCache is the L3 tier: the single DiffCache the renderer reads,
// plus the machinery to keep it current via the three-tier lookup
// described in spec component C5.
type ActiveCache struct {
	pr      PRKey
	current *diffcache.DiffCache
	builder *diffcache.Builder
}

// NewActiveCache constructs an empty L3 tier backed by builder.
func NewActiveCache(builder *diffcache.Builder) *ActiveCache {
	return &ActiveCache{builder: builder}
}

// Current returns the presently active cache, or nil if none has been
// installed yet.
func (a *ActiveCache) Current() *diffcache.DiffCache { return a.current }

// EnsureDiffCache performs the three-tier lookup for selectedFileIndex:
//  1. If the active cache already matches (fileIndex, patchHash), return it.
//  2. Else, look in the prefetch store; on a patch-hash match, promote it.
//  3. On a miss, build a plain cache synchronously, install it as active,
//     and return it — the caller is responsible for dispatching a
//     highlighted build via a Worker and later calling InstallBuildResult.
//
// pr must be the PR the selection belongs to; a PR switch should call Reset
// before the first EnsureDiffCache call for the new PR.
func (a *ActiveCache) EnsureDiffCache(pr PRKey, prefetch *PrefetchStore, selectedFileIndex int, patch string) *diffcache.DiffCache {
	patchHash := diffmodel.PatchHash(patch)

	if a.pr == pr && a.current.Matches(selectedFileIndex, patchHash) {
		return a.current
	}

	if cached, ok := prefetch.Get(pr, selectedFileIndex); ok && cached.Matches(selectedFileIndex, patchHash) {
		a.pr = pr
		a.current = cached
		return a.current
	}

	plain := a.builder.BuildPlain(selectedFileIndex, patch)
	a.pr = pr
	a.current = plain
	return plain
}

// InstallBuildResult validates a worker's BuildResult against the current
// state. A result for the selected file is swapped in as active, and
// stored in the prefetch store, only if the active cache still carries the
// same (pr, fileIndex, patchHash). A result for another file of the active
// PR goes to the prefetch store only; EnsureDiffCache checks its patch hash
// when it promotes it. A stale result is discarded silently — an
// InvariantViolation per the error taxonomy, not surfaced to the user.
func (a *ActiveCache) InstallBuildResult(result BuildResult, prefetch *PrefetchStore, currentSelectedIndex int) bool {
	if result.Err != nil {
		return false
	}
	if a.pr != result.PR {
		return false
	}
	if !result.Cache.Matches(result.FileIndex, result.PatchHash) {
		return false
	}
	if result.FileIndex == currentSelectedIndex {
		if !a.current.Matches(result.FileIndex, result.PatchHash) {
			return false
		}
		a.current = result.Cache
	}
	prefetch.Put(result.PR, result.FileIndex, result.Cache, currentSelectedIndex)
	return true
}

// Reset clears the active cache, e.g. on a PR switch.
func (a *ActiveCache) Reset() {
	a.pr = PRKey{}
	a.current = nil
}

// Worker bounds concurrent highlighted-build dispatch, mirroring the
// teacher's errgroup+semaphore chunk-review fan-out in review/reviewer.go
// generalized from "bounded concurrent API calls" to "bounded concurrent
// cache builds". Each worker owns one highlight.Pool for the duration of
// its batch, per the Parser Pool's not-safe-to-share-across-goroutines
// contract.
type Worker struct {
	builder *diffcache.Builder
	sem     *semaphore.Weighted
}

// NewWorker constructs a Worker bounded to runtime.GOMAXPROCS(0) concurrent
// builds, matching the teacher's default concurrency cap.
func NewWorker(pool *highlight.Pool) *Worker {
	hl := highlight.NewHighlighter(pool)
	return &Worker{
		builder: diffcache.NewBuilder(hl, nil),
		sem:     semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// BuildJob describes one highlighted-build request.
type BuildJob struct {
	PR         PRKey
	FileIndex  int
	Patch      string
	Source     string
	Lang       highlight.Lang
	PrimingLines int
}

// Dispatch runs job on a goroutine bounded by the worker's semaphore and
// sends the result on resultCh. Dispatch returns immediately; the caller
// must drain resultCh (typically the App Event Loop, per spec component
// C9) and must not block the UI goroutine on the send in Dispatch's
// goroutine — resultCh should be adequately buffered.
func (w *Worker) Dispatch(ctx context.Context, job BuildJob, resultCh chan<- BuildResult) {
	go func() {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			resultCh <- BuildResult{PR: job.PR, FileIndex: job.FileIndex, Err: err}
			return
		}
		defer w.sem.Release(1)

		cache, err := w.builder.BuildHighlighted(job.FileIndex, job.Patch, job.Source, job.Lang, job.PrimingLines)
		resultCh <- BuildResult{
			PR:        job.PR,
			FileIndex: job.FileIndex,
			PatchHash: diffmodel.PatchHash(job.Patch),
			Cache:     cache,
			Err:       err,
		}
	}()
}
