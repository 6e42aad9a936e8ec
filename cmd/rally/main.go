// Command rally is the terminal entrypoint: it wires configuration, the
// hosting shim, the loader, the cache hierarchy, and (optionally) a rally
// orchestrator into the App Event Loop and runs it until the user quits or
// the process receives SIGINT/SIGTERM.
//
// Configuration via environment variables, all optional:
//
//	RALLY_HOSTING_TOKEN  - personal access token for the hosting API (optional; unauthenticated if unset)
//	RALLY_REVIEWER_API_KEY - overrides the Reviewer agent's API key (see internal/config)
//	RALLY_REVIEWEE_API_KEY - overrides the Reviewee agent's API key
//
// Usage:
//
//	rally [-rally <pr>] [-config <path>] [-pg-dsn <dsn>] <owner/repo> <pr> [pr...]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ushironoko/rallytui/anthropic"
	"github.com/ushironoko/rallytui/internal/agent"
	"github.com/ushironoko/rallytui/internal/app"
	"github.com/ushironoko/rallytui/internal/cache"
	"github.com/ushironoko/rallytui/internal/config"
	"github.com/ushironoko/rallytui/internal/highlight"
	"github.com/ushironoko/rallytui/internal/hosting"
	"github.com/ushironoko/rallytui/internal/loader"
	"github.com/ushironoko/rallytui/internal/rally"
	"github.com/ushironoko/rallytui/internal/rallylog"
	"github.com/ushironoko/rallytui/internal/storage/jsonstore"
	"github.com/ushironoko/rallytui/internal/storage/pgindex"
)

// claudeMaxTurns bounds a single Claude CLI invocation's internal agentic
// turns; independent of config.AIConfig.MaxIterations, which bounds the
// rally's Reviewer<->Reviewee round count, not one CLI call's turn budget.
const claudeMaxTurns = 30

func main() {
	rallyPR := flag.Int("rally", 0, "PR number to drive a Reviewer/Reviewee rally against")
	configPath := flag.String("config", "", "path to config.yaml (default: user config dir)")
	pgDSN := flag.String("pg-dsn", "", "optional Postgres DSN to mirror rally sessions into for cross-repo search")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: rally [-rally <pr>] [-config <path>] [-pg-dsn <dsn>] <owner/repo> <pr> [pr...]")
		os.Exit(2)
	}
	repo := args[0]
	prs, err := parsePRNumbers(args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := rallylog.New(nil, slog.LevelInfo)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := validateAgentKeys(context.Background(), cfg.AI); err != nil {
		logger.Error("agent API key validation failed", "error", err)
		os.Exit(1)
	}

	shim := hosting.NewGitHubShim(os.Getenv("RALLY_HOSTING_TOKEN"))
	ld := loader.New(shim, repo, logger)

	pool := highlight.NewPool()
	loop := app.NewLoop(pool)

	loads := make(chan loader.Msg, 16)
	for _, pr := range prs {
		fanInto(loads, ld.LoadPR(context.Background(), pr, loader.Fresh, time.Time{}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, logger)

	var pgIdx *pgindex.Index
	if *pgDSN != "" {
		idx, err := pgindex.NewFromDSN(*pgDSN)
		if err != nil {
			logger.Error("failed to connect pg-dsn index", "error", err)
			os.Exit(1)
		}
		if err := idx.Migrate(context.Background()); err != nil {
			logger.Error("failed to migrate pg-dsn index", "error", err)
			os.Exit(1)
		}
		defer idx.Close()
		pgIdx = idx
	}

	var rallyEvents <-chan rally.RallyEvent = make(chan rally.RallyEvent)
	decisions := make(chan rally.Decision, 1)
	if *rallyPR != 0 {
		orch, session, err := setupRally(repo, *rallyPR, cfg, shim, logger)
		if err != nil {
			logger.Error("failed to set up rally", "error", err)
			os.Exit(1)
		}
		events := orch.Run(ctx, session, decisions)
		if pgIdx != nil {
			events = mirrorRallyEvents(events, session, pgIdx, logger)
		}
		rallyEvents = events
	}

	input := make(chan app.Input, 4)
	go readCommands(os.Stdin, input, decisions, logger)

	src := app.Sources{
		Loads:  loads,
		Rally:  rallyEvents,
		Input:  input,
		Render: renderState,
		Logger: logger,
	}
	loop.Run(ctx, src)
}

func parsePRNumbers(args []string) ([]int, error) {
	prs := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid PR number %q: %w", a, err)
		}
		prs = append(prs, n)
	}
	return prs, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.Load(path)
}

// validateAgentKeys runs anthropic/validate.go's minimal-cost API call
// before committing to a rally, so a bad key fails fast at startup rather
// than after several minutes of Reviewer/Reviewee turns.
func validateAgentKeys(ctx context.Context, ai config.AIConfig) error {
	if ai.Reviewer == config.AgentClaude && ai.ReviewerAPIKey != "" {
		if err := anthropic.ValidateAPIKey(ctx, "reviewer", ai.ReviewerAPIKey); err != nil {
			return err
		}
	}
	if ai.Reviewee == config.AgentClaude && ai.RevieweeAPIKey != "" {
		if err := anthropic.ValidateAPIKey(ctx, "reviewee", ai.RevieweeAPIKey); err != nil {
			return err
		}
	}
	return nil
}

func setupRally(repo string, pr int, cfg *config.Config, shim hosting.Shim, logger *slog.Logger) (*rally.Orchestrator, *rally.Session, error) {
	registry := agent.NewRegistry(
		agent.NewClaudeAdapter("claude", claudeMaxTurns),
		agent.NewCodexAdapter("codex"),
	)

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	sessionDir, err := jsonstore.SessionDir(filepath.Join(cacheDir, "rally"), repo, pr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid repo slug: %w", err)
	}
	history := rally.NewHistoryStore(sessionDir)

	logFile, err := rallylog.OpenRallyLog(jsonstore.LogsSubdir(sessionDir))
	if err == nil {
		logger = rallylog.New(logFile, slog.LevelInfo)
	}

	repoDir, _ := os.Getwd()
	orch := rally.NewOrchestrator(registry, cfg.AI, repoDir, history, shim, repo, pr, logger)
	session := rally.NewSession(repo, pr, "main", cfg.AI.MaxIterations)
	return orch, session, nil
}

// mirrorRallyEvents passes every event from events through unchanged, but
// first mirrors session's current summary into idx. It upserts once per
// event, which covers every phase change as well as each agent progress
// message, so the optional Postgres index never lags the jsonstore history
// it's meant to make cross-repo-searchable. Mirroring failures are logged, never fatal:
// the index is a convenience, not the rally's source of truth.
func mirrorRallyEvents(events <-chan rally.RallyEvent, session *rally.Session, idx *pgindex.Index, logger *slog.Logger) <-chan rally.RallyEvent {
	out := make(chan rally.RallyEvent)
	go func() {
		defer close(out)
		for ev := range events {
			rec := pgindex.SessionRecord{
				Repo:          session.Repo,
				PRNumber:      session.PRNumber,
				Phase:         string(session.Phase),
				Iteration:     session.Iteration,
				FailureReason: session.FailureReason,
				StartedAt:     session.StartedAt,
				UpdatedAt:     session.UpdatedAt,
			}
			if err := idx.UpsertSession(context.Background(), rec); err != nil {
				logger.Warn("failed to mirror rally session to pg-dsn index", "error", err)
			}
			out <- ev
		}
	}()
	return out
}

// fanInto forwards every message from src into dst without closing dst,
// since dst is shared across every concurrently loading PR.
func fanInto(dst chan<- loader.Msg, src <-chan loader.Msg) {
	go func() {
		for msg := range src {
			dst <- msg
		}
	}()
}

func handleSignals(cancel context.CancelFunc, logger *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs
	logger.Info("shutting down")
	cancel()
}

// readCommands is the headless stand-in for a terminal UI's keybindings:
// no complete example repo in the corpus carries a terminal-rendering
// library, so input here is line-oriented over stdin, translated into the
// same app.Input / rally.Decision events a richer front end would produce.
func readCommands(r *os.File, input chan<- app.Input, decisions chan<- rally.Decision, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "q":
			input <- app.Input{Kind: app.InputQuit}
			return
		case "file":
			if len(fields) < 2 {
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				logger.Warn("bad file index", "input", fields[1])
				continue
			}
			input <- app.Input{Kind: app.InputSelectFile, FileIndex: idx}
		case "pr":
			if len(fields) < 3 {
				continue
			}
			num, err := strconv.Atoi(fields[2])
			if err != nil {
				logger.Warn("bad pr number", "input", fields[2])
				continue
			}
			input <- app.Input{Kind: app.InputSelectPR, PR: cache.PRKey{Repo: fields[1], Number: num}}
		case "answer":
			decisions <- rally.Decision{Kind: rally.DecisionAnswer, Text: strings.Join(fields[1:], " ")}
		case "approve":
			decisions <- rally.Decision{Kind: rally.DecisionApprove}
		case "deny":
			decisions <- rally.Decision{Kind: rally.DecisionDeny}
		case "abort":
			decisions <- rally.Decision{Kind: rally.DecisionAbort}
		}
	}
}

func renderState(s app.State) {
	if s.LastLoadErr != nil {
		fmt.Printf("load error: %v\n", s.LastLoadErr)
		return
	}
	if s.LastRallyErr != nil {
		fmt.Printf("rally error: %v\n", s.LastRallyErr)
		return
	}
	fmt.Printf("pr=%s/%d file=%d\n", s.CurrentPR.Repo, s.CurrentPR.Number, s.SelectedFile)
}
