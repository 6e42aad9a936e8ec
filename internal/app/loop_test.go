package app

import (
	"context"
	"testing"
	"time"

	"github.com/ushironoko/rallytui/internal/cache"
	"github.com/ushironoko/rallytui/internal/highlight"
	"github.com/ushironoko/rallytui/internal/loader"
	"github.com/ushironoko/rallytui/internal/rally"
)

func TestRunSelectPRThenFileUpdatesState(t *testing.T) {
	l := NewLoop(highlight.NewPool())

	loads := make(chan loader.Msg, 1)
	input := make(chan Input, 4)
	rallyEvents := make(chan rally.RallyEvent)

	var states []State
	src := Sources{
		Loads:  loads,
		Rally:  rallyEvents,
		Input:  input,
		Render: func(s State) { states = append(states, s) },
	}

	pr := cache.PRKey{Repo: "o/r", Number: 1}
	data := &cache.PRData{
		Key: pr,
		Files: []cache.PRFile{
			{Path: "a.txt", Patch: "@@ -1,1 +1,1 @@\n-x\n+y\n"},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx, src)
		close(done)
	}()

	loads <- loader.Msg{PR: pr.Number, Data: data}
	input <- Input{Kind: InputSelectPR, PR: pr}
	input <- Input{Kind: InputSelectFile, FileIndex: 0}
	input <- Input{Kind: InputQuit}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Run did not stop on InputQuit within the timeout")
	}

	if len(states) == 0 {
		t.Fatal("expected at least one rendered state")
	}
	last := states[len(states)-1]
	if last.CurrentPR != pr {
		t.Errorf("CurrentPR = %+v, want %+v", last.CurrentPR, pr)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	l := NewLoop(highlight.NewPool())
	src := Sources{
		Loads: make(chan loader.Msg),
		Rally: make(chan rally.RallyEvent),
		Input: make(chan Input),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, src)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestHandleLoadErrorDoesNotPanic(t *testing.T) {
	l := NewLoop(highlight.NewPool())
	var gotErr error
	src := Sources{Render: func(s State) { gotErr = s.LastLoadErr }}
	l.handleLoad(loader.Msg{PR: 1, Err: errTest}, src)
	if gotErr == nil {
		t.Error("expected LastLoadErr to be populated")
	}
}

var errTest = errExample("boom")

type errExample string

func (e errExample) Error() string { return string(e) }
