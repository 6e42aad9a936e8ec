// Package app implements the App Event Loop (spec component C9): a
// single goroutine that drains every asynchronous source — PR data
// loads first, then prefetch/highlight build results, rally events, and
// user input with no order among them — applying cache invalidation at PR and file
// selection transitions. Its shape is grounded on cmd/server/main.go's
// signal-driven run loop, generalized from "serve HTTP until SIGTERM"
// to "drain channels until the user quits"; the per-message invalidate
// discipline follows other_examples' DiffViewerModel methods, which null
// out cachedLines before calling refreshContent on every state change
// that can no longer be served from the old cache.
package app

import (
	"context"
	"log/slog"

	"github.com/ushironoko/rallytui/internal/cache"
	"github.com/ushironoko/rallytui/internal/diffcache"
	"github.com/ushironoko/rallytui/internal/highlight"
	"github.com/ushironoko/rallytui/internal/loader"
	"github.com/ushironoko/rallytui/internal/rally"
)

// InputKind enumerates the user-input events the loop reacts to.
type InputKind string

const (
	InputSelectFile InputKind = "select_file"
	InputSelectPR   InputKind = "select_pr"
	InputQuit       InputKind = "quit"
)

// Input is one user-driven event, delivered on its own channel so it can
// be prioritized relative to background loads.
type Input struct {
	Kind      InputKind
	FileIndex int
	PR        cache.PRKey
}

// Sources bundles the external channels the loop selects over. Build
// results are not included here: the loop owns its Worker and its
// result channel directly, since only the loop ever dispatches jobs.
type Sources struct {
	Loads  <-chan loader.Msg
	Rally  <-chan rally.RallyEvent
	Input  <-chan Input
	Render func(State)
	Logger *slog.Logger
}

// State is the minimal view-relevant snapshot the loop hands to Render
// after each processed event.
type State struct {
	CurrentPR    cache.PRKey
	SelectedFile int
	ActiveCache  *diffcache.DiffCache
	LastLoadErr  error
	LastRallyErr error
}

// resultsBuffer bounds how many dispatched builds can be in flight
// without blocking a worker goroutine's send.
const resultsBuffer = 32

// Loop owns the cache hierarchy and current selection, and is the sole
// goroutine permitted to mutate them — per spec §5, no mutexes guard the
// L1/L2/L3 maps because only this goroutine ever touches them.
type Loop struct {
	session  *cache.SessionCache
	prefetch *cache.PrefetchStore
	active   *cache.ActiveCache
	worker   *cache.Worker
	results  chan cache.BuildResult

	currentPR    cache.PRKey
	selectedFile int
}

// NewLoop constructs a Loop with a fresh cache hierarchy backed by pool
// for highlighting.
func NewLoop(pool *highlight.Pool) *Loop {
	hl := highlight.NewHighlighter(pool)
	builder := diffcache.NewBuilder(hl, nil)
	return &Loop{
		session:  cache.NewSessionCache(),
		prefetch: cache.NewPrefetchStore(),
		active:   cache.NewActiveCache(builder),
		worker:   cache.NewWorker(pool),
		results:  make(chan cache.BuildResult, resultsBuffer),
	}
}

// Run drains src's channels until ctx is cancelled or an InputQuit is
// received. Only Loads has priority: each iteration first drains Loads
// non-blockingly before falling through to a blocking select across all
// sources. Build results, Rally and Input have no order among them, since
// Go picks among ready select cases at random. This mirrors the
// teacher's single-<-done main-loop shape scaled up to several sources
// instead of one.
func (l *Loop) Run(ctx context.Context, src Sources) {
	for {
		select {
		case msg, ok := <-src.Loads:
			if ok {
				l.handleLoad(msg, src)
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src.Loads:
			if !ok {
				continue
			}
			l.handleLoad(msg, src)
		case res, ok := <-l.results:
			if !ok {
				continue
			}
			l.handleBuild(res, src)
		case ev, ok := <-src.Rally:
			if !ok {
				continue
			}
			l.handleRally(ev, src)
		case in, ok := <-src.Input:
			if !ok {
				continue
			}
			if l.handleInput(in, src) {
				return
			}
		}
	}
}

func (l *Loop) handleLoad(msg loader.Msg, src Sources) {
	if msg.Err != nil {
		l.render(src, msg.Err, nil)
		return
	}
	if msg.NotModified || msg.Data == nil {
		return
	}

	l.session.Put(msg.Data)
	key := msg.Data.Key
	if key == l.currentPR {
		// Data refreshed under the currently viewed PR: the active and
		// prefetch caches may now be stale against new patch content.
		l.prefetch.PurgeExcept(key)
		l.active.Reset()
		l.ensureSelectedFileCache(key, msg.Data)
	}
	l.render(src, nil, nil)
}

func (l *Loop) handleBuild(res cache.BuildResult, src Sources) {
	l.active.InstallBuildResult(res, l.prefetch, l.selectedFile)
	l.render(src, nil, nil)
}

func (l *Loop) handleRally(ev rally.RallyEvent, src Sources) {
	l.render(src, nil, ev.Err)
}

// handleInput applies a user action and reports whether the loop should
// stop.
func (l *Loop) handleInput(in Input, src Sources) bool {
	switch in.Kind {
	case InputQuit:
		return true
	case InputSelectPR:
		l.currentPR = in.PR
		l.selectedFile = 0
		l.prefetch.PurgeExcept(in.PR)
		l.active.Reset()
		if data, ok := l.session.Get(in.PR); ok {
			l.ensureSelectedFileCache(in.PR, data)
		}
	case InputSelectFile:
		l.selectedFile = in.FileIndex
		if data, ok := l.session.Get(l.currentPR); ok {
			l.ensureSelectedFileCache(l.currentPR, data)
		}
	}
	l.render(src, nil, nil)
	return false
}

// ensureSelectedFileCache performs the C5 three-tier lookup for the
// current selection and, on a plain-cache miss path, dispatches an
// async highlighted build into l.results.
func (l *Loop) ensureSelectedFileCache(pr cache.PRKey, data *cache.PRData) {
	if l.selectedFile < 0 || l.selectedFile >= len(data.Files) {
		return
	}
	file := data.Files[l.selectedFile]
	got := l.active.EnsureDiffCache(pr, l.prefetch, l.selectedFile, file.Patch)
	if got.Highlighted {
		return
	}

	lang, ok := highlight.DetectLang(file.Path)
	if !ok {
		return
	}
	source := diffcache.ReconstructSource(file.Patch)
	job := cache.BuildJob{
		PR:        pr,
		FileIndex: l.selectedFile,
		Patch:     file.Patch,
		Source:    source,
		Lang:      lang,
	}
	l.worker.Dispatch(context.Background(), job, l.results)
}

func (l *Loop) render(src Sources, loadErr, rallyErr error) {
	if src.Render == nil {
		return
	}
	src.Render(State{
		CurrentPR:    l.currentPR,
		SelectedFile: l.selectedFile,
		ActiveCache:  l.active.Current(),
		LastLoadErr:  loadErr,
		LastRallyErr: rallyErr,
	})
}
