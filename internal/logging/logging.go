// ABOUTME: slog setup for mercury-mcp: colorized text or JSON, always on stderr.
// ABOUTME: stdout is reserved for the stdio transport; an optional log file receives a copy.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/2389/mercury-mcp/internal/config"
)

// Setup builds the process logger from config. The returned closer releases
// the log file, if any, and must be called on shutdown.
func Setup(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	closer := io.Closer(nopCloser{})
	colorize := cfg.File == "" && isatty.IsTerminal(os.Stderr.Fd())

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	return New(out, cfg.Level, cfg.Format, colorize), closer, nil
}

// New creates a logger writing to w at the named level ("debug", "info",
// "warn", "error"; anything else means info). Format "json" selects the JSON
// handler, anything else the human-readable handler.
func New(w io.Writer, level, format string, colorize bool) *slog.Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = &colorHandler{
			state:    &handlerState{w: w},
			level:    lvl,
			colorize: colorize,
		}
	}

	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// handlerState is shared by a handler and every handler derived from it so
// writes from all of them are serialized.
type handlerState struct {
	mu sync.Mutex
	w  io.Writer
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	state    *handlerState
	level    slog.Level
	colorize bool
	attrs    []slog.Attr
	groups   []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) paint(c *color.Color, s string) string {
	if !h.colorize {
		return s
	}
	return c.Sprint(s)
}

// forcedColor ignores color.NoColor, which only looks at stdout; the
// handler decides for itself whether its writer is a terminal.
func forcedColor(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	c.EnableColor()
	return c
}

var (
	dimColor   = forcedColor(color.FgHiBlack)
	debugColor = forcedColor(color.FgMagenta)
	infoColor  = forcedColor(color.FgCyan)
	warnColor  = forcedColor(color.FgYellow)
	errorColor = forcedColor(color.FgRed, color.Bold)
)

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	// Format timestamp
	buf.WriteString(h.paint(dimColor, r.Time.Format("15:04:05")+" "))

	// Colorize level
	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(h.paint(errorColor, "ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(h.paint(warnColor, "WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(h.paint(infoColor, "INF "))
	default:
		buf.WriteString(h.paint(debugColor, "DBG "))
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		h.writeAttr(&buf, a)
	}

	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		h.writeAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")

	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	_, err := io.WriteString(h.state.w, buf.String())
	return err
}

func (h *colorHandler) writeAttr(buf *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	buf.WriteString(h.paint(dimColor, " "+a.Key+"="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		newAttrs = append(newAttrs, a)
	}
	return &colorHandler{
		state:    h.state,
		level:    h.level,
		colorize: h.colorize,
		attrs:    newAttrs,
		groups:   h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		state:    h.state,
		level:    h.level,
		colorize: h.colorize,
		attrs:    h.attrs,
		groups:   newGroups,
	}
}
