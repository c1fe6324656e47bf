// Package logger builds the process-wide slog logger: text on the terminal,
// JSON in the optional log file, and the systemd journal when badger runs as
// a service.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a JSON logger with the given level and output.
func New(level string, output io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// NewText creates a text logger (the terminal format).
func NewText(level string, output io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Options configures Setup.
type Options struct {
	Level string
	// File, when set, receives JSON records in addition to the terminal.
	File string
	// Terminal defaults to os.Stderr.
	Terminal io.Writer
	// Journal forces the journal handler on or off; nil autodetects.
	Journal *bool
}

// Setup builds the fanout logger, installs it as slog's default and returns
// a close function for the log file.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	level := ParseLevel(opts.Level)
	closer := func() error { return nil }

	terminal := opts.Terminal
	if terminal == nil {
		terminal = os.Stderr
	}

	service := IsSystemdService()
	if opts.Journal != nil {
		service = *opts.Journal
	}

	var handlers []slog.Handler
	var terminalHandler slog.Handler
	if !service {
		terminalHandler = slog.NewTextHandler(terminal, &slog.HandlerOptions{Level: level})
		handlers = append(handlers, terminalHandler)
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f.Close
	}

	if service {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        level,
			ReplaceGroup: toJournalKey,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			// no journal socket: fall back to the terminal
			terminalHandler = slog.NewTextHandler(terminal, &slog.HandlerOptions{Level: level})
			handlers = append(handlers, terminalHandler)
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "Systemd journal unavailable", 0)
			record.Add("error", err)
			_ = terminalHandler.Handle(context.Background(), record)
		} else {
			handlers = append(handlers, journal)
		}
	}

	l := slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(l)
	return l, closer, nil
}

// IsSystemdService reports whether the process runs as a systemd unit.
func IsSystemdService() bool {
	if os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	cgroup, err := cgroupPath()
	if err != nil {
		return false
	}
	return strings.HasSuffix(path.Dir(cgroup), ".service")
}

func cgroupPath() (string, error) {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(strings.TrimSpace(string(content)), ":", 3)
	if len(parts) == 3 {
		return parts[2], nil
	}
	return "", nil
}

// toJournalKey upper-cases a key and replaces anything outside [A-Z0-9]
// with '_', as journald requires.
func toJournalKey(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(s))
}
