package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

// ClaudeAdapter drives the claude CLI in stream-json mode, the invocation
// shape grounded directly on the teacher's Analyzer.Analyze: "-p" prompt,
// "--output-format stream-json", "--verbose", an allowed-tools list, and
// a max-turns cap.
type ClaudeAdapter struct {
	BinPath  string
	MaxTurns int
}

// NewClaudeAdapter constructs a ClaudeAdapter. maxTurns of 0 defaults to
// 30, matching the teacher's Analyzer default.
func NewClaudeAdapter(binPath string, maxTurns int) *ClaudeAdapter {
	if binPath == "" {
		binPath = "claude"
	}
	return &ClaudeAdapter{BinPath: binPath, MaxTurns: maxTurns}
}

func (a *ClaudeAdapter) Name() string { return "claude" }

func (a *ClaudeAdapter) Spawn(ctx context.Context, opts SpawnOptions) (*Session, error) {
	maxTurns := a.MaxTurns
	if maxTurns == 0 {
		maxTurns = 30
	}

	tools := "Read,Glob,Grep,Bash,Edit,Write"
	if len(opts.AdditionalTools) > 0 {
		tools = tools + "," + strings.Join(opts.AdditionalTools, ",")
	}

	args := []string{
		"-p", opts.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--allowedTools", tools,
		"--max-turns", fmt.Sprintf("%d", maxTurns),
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
	return runSession(ctx, "claude", cmd, cancel, decodeClaudeLine)
}

// decodeClaudeLine normalizes one claude stream-json line, dispatching on
// its "type" field the same way the teacher's reportProgress does, but
// emitting Events instead of calling a fixed ProgressFunc.
func decodeClaudeLine(line string, emit func(Event)) *Result {
	root := gjson.Parse(line)
	switch root.Get("type").String() {
	case "assistant":
		for _, block := range root.Get("message.content").Array() {
			switch block.Get("type").String() {
			case "tool_use":
				emit(Event{Kind: EventToolUse, Text: "Using " + block.Get("name").String() + "...", Raw: line})
			case "text":
				if text := block.Get("text").String(); text != "" {
					emit(Event{Kind: EventText, Text: truncate(text, 100), Raw: line})
				}
			}
		}
		return nil
	case "result":
		output := root.Get("result").String()
		if !root.Get("result").IsArray() && !root.Get("result").IsObject() && output == "" {
			output = root.Get("result").Raw
		}
		emit(Event{Kind: EventResult, Text: output, Raw: line})
		return &Result{Output: output, ExitCode: int(root.Get("num_turns").Int())}
	default:
		return nil
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
