package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ringBuffer stores the last N lines of log output.
type ringBuffer struct {
	mu    sync.RWMutex
	lines []string
	cap   int
	count int // total lines ever written (for change detection)
}

func newRingBuffer(cap int) *ringBuffer {
	return &ringBuffer{
		lines: make([]string, 0, cap),
		cap:   cap,
	}
}

func (b *ringBuffer) Write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) < b.cap {
		b.lines = append(b.lines, line)
	} else {
		b.lines = append(b.lines[1:], line)
	}
	b.count++
}

func (b *ringBuffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *ringBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// lineHandler implements slog.Handler as one "time level msg k=v" line per
// record, written to w and kept in buf.
type lineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	buf    *ringBuffer
	level  slog.Level
	prefix string // preformatted attrs from WithAttrs
	group  string
}

func newLineHandler(w io.Writer, buf *ringBuffer, level slog.Level) *lineHandler {
	return &lineHandler{mu: &sync.Mutex{}, w: w, buf: buf, level: level}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format(time.TimeOnly)
	line := fmt.Sprintf("%s %s %s%s", ts, r.Level.String(), r.Message, h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		line += formatAttr(h.group, a)
		return true
	})
	if h.buf != nil {
		h.buf.Write(line)
	}
	if h.w == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	for _, a := range attrs {
		next.prefix += formatAttr(h.group, a)
	}
	return &next
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if next.group != "" {
		next.group += "."
	}
	next.group += name
	return &next
}

func formatAttr(group string, a slog.Attr) string {
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	return fmt.Sprintf(" %s=%v", key, a.Value)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func setupLogger(level string, debug bool, buf *ringBuffer) {
	l := parseLevel(level)
	if debug {
		l = slog.LevelDebug
	}
	slog.SetDefault(slog.New(newLineHandler(os.Stderr, buf, l)))
}
