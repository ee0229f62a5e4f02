package log

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// New builds a logger writing to w. Unless WithColor or WithJSON say
// otherwise, terminals get a coloured console handler and other writers get
// the console handler without colour.
func New(w io.Writer, opts ...HandlerOption) *slog.Logger {
	cfg := defaultHandlerConfig()
	cfg.color = IsTerminal(w)
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.json {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     cfg.level,
			AddSource: cfg.addSource,
		}))
	}
	return slog.New(&ConsoleHandler{opts: cfg, mu: &sync.Mutex{}, w: w})
}

// IsTerminal reports whether w is a terminal, including Cygwin/MSYS ones.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ParseLevel maps a configuration level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(name))
	return l, err
}
