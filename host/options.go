package host

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/reglet-dev/rootscope/memory"
)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	lifecycle *Lifecycle
	id        string
	stackOpts []memory.StackOption
}

func defaultConfig() config {
	return config{
		logger:    slog.Default(),
		lifecycle: processLifecycle,
	}
}

// WithLogger sets the logger for lifecycle and boundary events. The scope
// stack logs through it too.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLifecycle replaces the process-wide lifecycle guard.
func WithLifecycle(l *Lifecycle) Option {
	return func(c *config) {
		if l != nil {
			c.lifecycle = l
		}
	}
}

// WithStackOptions configures the scope stack.
func WithStackOptions(opts ...memory.StackOption) Option {
	return func(c *config) {
		c.stackOpts = append(c.stackOpts, opts...)
	}
}

// WithInstanceID sets the id the runtime logs under. A random UUID is used
// otherwise.
func WithInstanceID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}

func (c *config) instanceID() string {
	if c.id == "" {
		c.id = uuid.NewString()
	}
	return c.id
}
