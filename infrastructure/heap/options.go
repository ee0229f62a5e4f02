package heap

import (
	"log/slog"

	"github.com/reglet-dev/rootscope/hostfuncs"
)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	registry  *hostfuncs.Registry
	globals   []global
	threshold int
}

type global struct {
	value  any
	module string
	name   string
}

func defaultConfig() config {
	return config{
		logger:    slog.Default(),
		threshold: 1024,
	}
}

// WithLogger sets the logger for lifecycle and collection events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegistry sets the functions bound as globals. Without it the runtime
// exposes the Base bundle behind panic recovery.
func WithRegistry(r *hostfuncs.Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithThreshold sets how many allocations trigger a collection. Zero turns
// allocation-triggered collection off; safepoints still collect.
func WithThreshold(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.threshold = n
		}
	}
}

// WithGlobal binds a boxed constant as module.name. Bindings are permanently
// rooted.
func WithGlobal(module, name string, v any) Option {
	return func(c *config) {
		c.globals = append(c.globals, global{module: module, name: name, value: v})
	}
}
