// Package rallylog provides the structured logger shared by every component.
// Each rally gets its own log file under its session directory in addition to
// the process-wide stderr stream.
package rallylog

import (
	"io"
	"log/slog"
	"os"
)

// New builds a JSON logger that writes to stderr and, if logFile is non-nil,
// also to logFile. Callers close logFile themselves; New does not own it.
func New(logFile io.Writer, level slog.Level) *slog.Logger {
	w := io.Writer(os.Stderr)
	if logFile != nil {
		w = io.MultiWriter(os.Stderr, logFile)
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// OpenRallyLog opens dir/rally.log for appending, creating dir and the file
// if needed. The CLI passes the session's logs/ directory as dir.
func OpenRallyLog(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(dir+"/rally.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
