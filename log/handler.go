// Package log provides the slog handlers used by the rootscope command and
// its runtimes: a compact console handler for terminals and a JSON handler
// for everything else.
package log

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
)

// ConsoleHandler writes one line per record:
//
//	15:04:05.000 INFO  host: runtime started runtime=… depth=1
//
// Level names are coloured when the handler was built with colour on.
type ConsoleHandler struct {
	opts   handlerConfig
	mu     *sync.Mutex
	w      io.Writer
	prefix string // pre-formatted attrs from WithAttrs
	group  string
}

// HandlerOption configures a handler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	level     slog.Leveler
	addSource bool
	color     bool
	json      bool
}

// defaultHandlerConfig returns the default configuration.
func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		level: slog.LevelInfo,
	}
}

// WithLevel sets the minimum log level to report.
func WithLevel(level slog.Leveler) HandlerOption {
	return func(c *handlerConfig) {
		if level != nil {
			c.level = level
		}
	}
}

// WithSource enables reporting of source location (file/line).
func WithSource(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.addSource = enabled
	}
}

// WithColor forces colour on or off. New decides on its own otherwise.
func WithColor(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.color = enabled
	}
}

// WithJSON makes New build a JSON handler instead of a console one.
func WithJSON(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.json = enabled
	}
}

// NewConsoleHandler creates a console handler writing to w.
func NewConsoleHandler(w io.Writer, opts ...HandlerOption) *ConsoleHandler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ConsoleHandler{opts: cfg, mu: &sync.Mutex{}, w: w}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level.Level()
}

// Handle formats the record and writes it as a single line.
func (h *ConsoleHandler) Handle(_ context.Context, record slog.Record) error {
	var buf bytes.Buffer
	if !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("15:04:05.000"))
		buf.WriteByte(' ')
	}
	buf.WriteString(h.levelName(record.Level))
	buf.WriteByte(' ')
	buf.WriteString(record.Message)

	if h.opts.addSource && record.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{record.PC})
		f, _ := frames.Next()
		buf.WriteString(" source=")
		buf.WriteString(f.File)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(f.Line))
	}

	buf.WriteString(h.prefix)
	record.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.group, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a handler that writes attrs on every record.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var buf bytes.Buffer
	for _, a := range attrs {
		appendAttr(&buf, h.group, a)
	}
	next := *h
	next.prefix = h.prefix + buf.String()
	return &next
}

// WithGroup returns a handler that qualifies later keys with name.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = qualify(h.group, name)
	return &next
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiGray   = "\x1b[90m"
)

func (h *ConsoleHandler) levelName(l slog.Level) string {
	name := l.String()
	for len(name) < 5 {
		name += " "
	}
	if !h.opts.color {
		return name
	}
	color := ansiBlue
	switch {
	case l >= slog.LevelError:
		color = ansiRed
	case l >= slog.LevelWarn:
		color = ansiYellow
	case l < slog.LevelInfo:
		color = ansiGray
	}
	return color + name + ansiReset
}

var _ slog.Handler = (*ConsoleHandler)(nil)
