package agent

import (
	"context"
	"os/exec"

	"github.com/tidwall/gjson"
)

// CodexAdapter drives the codex CLI's non-interactive "exec" mode. Codex
// has no teacher or example repo in this corpus, so its invocation is
// built by analogy to ClaudeAdapter's shape rather than grounded on a
// specific file: a single-shot prompt, JSON-lines output, and a sandbox
// flag standing in for claude's --allowedTools.
type CodexAdapter struct {
	BinPath string
}

// NewCodexAdapter constructs a CodexAdapter.
func NewCodexAdapter(binPath string) *CodexAdapter {
	if binPath == "" {
		binPath = "codex"
	}
	return &CodexAdapter{BinPath: binPath}
}

func (a *CodexAdapter) Name() string { return "codex" }

func (a *CodexAdapter) Spawn(ctx context.Context, opts SpawnOptions) (*Session, error) {
	sandbox := "workspace-write"
	if len(opts.AdditionalTools) == 0 {
		sandbox = "read-only"
	}

	args := []string{
		"exec",
		"--json",
		"--sandbox", sandbox,
		"--cd", opts.WorkDir,
		opts.Prompt,
	}

	cancel := func() {}
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	cmd := exec.CommandContext(ctx, a.BinPath, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = scopedEnv(opts)

	// cancel is released by runSession once the subprocess actually exits,
	// not deferred here: exec.CommandContext kills the process the instant
	// its context is cancelled, and Spawn returns long before that.
	return runSession(ctx, "codex", cmd, cancel, decodeCodexLine)
}

// decodeCodexLine normalizes one codex JSON-lines event. Codex's event
// taxonomy (msg.type of "agent_message", "exec_command_begin",
// "task_complete", ...) differs from claude's, so each case is mapped to
// the shared EventKind independently rather than reusing decodeClaudeLine.
func decodeCodexLine(line string, emit func(Event)) *Result {
	root := gjson.Parse(line)
	msgType := root.Get("msg.type").String()
	switch msgType {
	case "agent_message":
		if text := root.Get("msg.message").String(); text != "" {
			emit(Event{Kind: EventText, Text: truncate(text, 100), Raw: line})
		}
		return nil
	case "exec_command_begin":
		emit(Event{Kind: EventToolUse, Text: "Running " + root.Get("msg.command").String() + "...", Raw: line})
		return nil
	case "error":
		emit(Event{Kind: EventToolError, Text: root.Get("msg.message").String(), Raw: line})
		return nil
	case "task_complete":
		output := root.Get("msg.last_agent_message").String()
		emit(Event{Kind: EventResult, Text: output, Raw: line})
		return &Result{Output: output}
	default:
		return nil
	}
}
