package memory

import "log/slog"

// StackOption configures a Stack.
type StackOption func(*stackConfig)

type stackConfig struct {
	logger       *slog.Logger
	initialSlots int
	maxDepth     int
}

func defaultStackConfig() stackConfig {
	return stackConfig{
		logger:       slog.Default(),
		initialSlots: 8,
	}
}

// WithLogger sets the logger used for unwinding diagnostics.
func WithLogger(l *slog.Logger) StackOption {
	return func(c *stackConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithInitialSlots sets how many slots a growable frame preallocates.
func WithInitialSlots(n int) StackOption {
	return func(c *stackConfig) {
		if n > 0 {
			c.initialSlots = n
		}
	}
}

// WithMaxDepth bounds the number of live frames. Zero means unbounded.
func WithMaxDepth(n int) StackOption {
	return func(c *stackConfig) {
		if n >= 0 {
			c.maxDepth = n
		}
	}
}
