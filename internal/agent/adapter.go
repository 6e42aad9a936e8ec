// Package agent implements the Agent Adapter (spec component C7): a
// uniform Spawn interface over the two agent CLIs a rally can drive as
// Reviewer or Reviewee (a spawned Session exposes Events, Wait and
// Cancel), grounded directly on
// other_examples/ba84f82b_shhac-prtea__internal-claude-analyzer.go.go's
// exec.CommandContext + piped-stdout + bufio.Scanner shape, generalized
// from a single fixed analysis prompt to an arbitrary rally-turn prompt
// and from one CLI to a small registry of them.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// scannerBufferSize matches the teacher's 1MB NDJSON line buffer; agent
// CLIs can emit single lines containing an entire tool-call payload.
const scannerBufferSize = 1024 * 1024

// EventKind discriminates a parsed NDJSON event without committing to its
// full shape, mirroring the teacher's two-pass approach (peek event.Type
// via gjson, then branch) generalized to gjson.Get instead of a typed
// struct field, since Codex and Claude use different field names for the
// same concepts.
type EventKind string

const (
	EventText      EventKind = "text"
	EventToolUse   EventKind = "tool_use"
	EventToolError EventKind = "tool_error"
	EventResult    EventKind = "result"
	EventUnknown   EventKind = "unknown"
)

// Event is one adapter-normalized line of agent output.
type Event struct {
	Kind EventKind
	Text string // human-readable progress text, for EventText/EventToolUse
	Raw  string // the raw NDJSON line, for EventResult's final-output extraction
}

// Result is the outcome of one Spawn invocation, extracted from the
// terminal EventResult line.
type Result struct {
	Output   string
	ExitCode int
}

// SpawnOptions configures one agent turn.
type SpawnOptions struct {
	WorkDir         string
	Prompt          string
	AdditionalTools []string
	Timeout         time.Duration
	APIKeyEnv       string // e.g. "ANTHROPIC_API_KEY"; scrubbed from the child's env if set
	APIKeyValue     string // if non-empty, injected in place of APIKeyEnv
}

// Session is a running or finished agent subprocess. Events arrives in
// subprocess output order; the channel closes once the process exits and
// its final Result (or error) is available via Wait.
type Session struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	Events <-chan Event
	done   chan struct{}
	result Result
	err    error
}

// NewFinishedSession builds an already-complete Session wrapping a known
// result, for adapters (or tests) that can answer a turn without
// spawning a subprocess.
func NewFinishedSession(result Result, err error) *Session {
	events := make(chan Event)
	close(events)
	done := make(chan struct{})
	close(done)
	return &Session{Events: events, done: done, result: result, err: err}
}

// Wait blocks until the subprocess exits and the Events channel has been
// drained, then returns the extracted Result.
func (s *Session) Wait() (Result, error) {
	<-s.done
	return s.result, s.err
}

// Cancel terminates the subprocess. It is safe to call after the session
// has already finished.
func (s *Session) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Adapter is implemented by each supported agent CLI.
type Adapter interface {
	// Name is the adapter's identifier, matching config.AgentClaude or
	// config.AgentCodex.
	Name() string
	// Spawn starts the agent subprocess and returns a Session streaming its
	// normalized output. Spawn itself does not block on completion.
	Spawn(ctx context.Context, opts SpawnOptions) (*Session, error)
}

// filterEnv removes any entry for key from env, generalizing the
// teacher's single-purpose filterEnv(env, "ANTHROPIC_API_KEY") to an
// arbitrary key so each adapter can scrub its own provider's secret
// before re-injecting the rally-scoped one.
func filterEnv(env []string, key string) []string {
	prefix := key + "="
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// scopedEnv builds the child process environment: the parent's env with
// opts.APIKeyEnv scrubbed and, if opts.APIKeyValue is set, replaced with
// the rally-scoped key so a Reviewer and Reviewee running the same CLI
// never share credentials.
func scopedEnv(opts SpawnOptions) []string {
	env := os.Environ()
	if opts.APIKeyEnv == "" {
		return env
	}
	env = filterEnv(env, opts.APIKeyEnv)
	if opts.APIKeyValue != "" {
		env = append(env, opts.APIKeyEnv+"="+opts.APIKeyValue)
	}
	return env
}

// runSession starts cmd, wires its stdout through an NDJSON-to-Event
// decoder using decode, and drains stderr in the background exactly like
// the teacher's runAndParse — a deadline-aware error is produced if ctx's
// deadline was the reason the process exited.
//
// cancel releases the context the caller derived for this spawn (e.g. a
// context.WithTimeout). It must not fire until the subprocess has actually
// exited: exec.CommandContext kills the process as soon as its context is
// cancelled, so cancel is called from the goroutine below, after
// cmd.Wait() returns, rather than deferred by the caller.
func runSession(ctx context.Context, cliName string, cmd *exec.Cmd, cancel context.CancelFunc, decode func(line string, emit func(Event)) *Result) (*Session, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if strings.Contains(err.Error(), exec.ErrNotFound.Error()) {
			return nil, fmt.Errorf("%s CLI not found at %s: ensure it is installed", cliName, cmd.Path)
		}
		return nil, fmt.Errorf("failed to start %s: %w", cliName, err)
	}

	events := make(chan Event, 16)
	s := &Session{cmd: cmd, cancel: cancel, Events: events, done: make(chan struct{})}

	go func() {
		var stderrBuf strings.Builder
		stderrDone := make(chan struct{})
		go func() {
			defer close(stderrDone)
			sc := bufio.NewScanner(stderr)
			sc.Buffer(make([]byte, scannerBufferSize), scannerBufferSize)
			for sc.Scan() {
				stderrBuf.WriteString(sc.Text())
				stderrBuf.WriteByte('\n')
			}
		}()

		var final *Result
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, scannerBufferSize), scannerBufferSize)
		for sc.Scan() {
			line := sc.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if r := decode(line, func(e Event) { events <- e }); r != nil {
				final = r
			}
		}
		close(events)
		<-stderrDone

		waitErr := cmd.Wait()
		cancel()
		switch {
		case waitErr != nil && ctx.Err() != nil:
			s.err = fmt.Errorf("%s timed out or was cancelled: %w", cliName, ctx.Err())
		case waitErr != nil:
			errMsg := stderrBuf.String()
			if len(errMsg) > 500 {
				errMsg = errMsg[:500]
			}
			s.err = fmt.Errorf("%s exited with error: %w\nstderr: %s", cliName, waitErr, errMsg)
		case final == nil:
			s.err = fmt.Errorf("%s produced no terminal result event", cliName)
		default:
			s.result = *final
		}
		close(s.done)
	}()

	return s, nil
}

// gjsonEventType peeks an NDJSON line's discriminator field without
// committing to a full struct decode, letting each adapter's decode
// function branch on the agent-specific field name it actually uses.
func gjsonEventType(line, path string) string {
	return gjson.Get(line, path).String()
}
