package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const termTimeFormat = "01-02|15:04:05.000"

// TerminalHandler formats records as "LEVEL[time] message key=val ...".
type TerminalHandler struct {
	mu    sync.Mutex
	out   io.Writer
	level slog.Level
	color bool
	attrs []slog.Attr
}

// NewTerminalHandlerWithLevel writes human-readable records to out, dropping
// records below level.
func NewTerminalHandlerWithLevel(out io.Writer, level slog.Level, color bool) *TerminalHandler {
	return &TerminalHandler{out: out, level: level, color: color}
}

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	lvl := LevelAlignedString(r.Level)
	if h.color {
		switch {
		case r.Level >= LevelCrit:
			lvl = "\x1b[35m" + lvl + "\x1b[0m"
		case r.Level >= slog.LevelError:
			lvl = "\x1b[31m" + lvl + "\x1b[0m"
		case r.Level >= slog.LevelWarn:
			lvl = "\x1b[33m" + lvl + "\x1b[0m"
		}
	}
	sb.WriteString(lvl)
	sb.WriteByte('[')
	sb.WriteString(r.Time.Format(termTimeFormat))
	sb.WriteString("] ")
	sb.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &TerminalHandler{out: h.out, level: h.level, color: h.color}
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return nh
}

func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	return h
}

type discardHandler struct{}

// DiscardHandler returns a handler that drops everything.
func DiscardHandler() slog.Handler { return discardHandler{} }

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
