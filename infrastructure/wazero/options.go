package wazero

import (
	"log/slog"
)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	module     string
	allocate   string
	deallocate string
	maxData    uint32
	threshold  int
	wasi       bool
}

func defaultConfig() config {
	return config{
		logger:     slog.Default(),
		module:     "guest",
		allocate:   "allocate",
		deallocate: "deallocate",
		maxData:    1 << 20,
		threshold:  1024,
		wasi:       true,
	}
}

// WithLogger sets the logger for lifecycle, trap and collection events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithModuleName sets the name the guest is instantiated under. Globals are
// looked up in this module (default: "guest").
func WithModuleName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.module = name
		}
	}
}

// WithAllocator names the guest exports used to obtain and release guest
// memory (default: "allocate" and "deallocate").
func WithAllocator(allocate, deallocate string) Option {
	return func(c *config) {
		if allocate != "" {
			c.allocate = allocate
		}
		if deallocate != "" {
			c.deallocate = deallocate
		}
	}
}

// WithMaxDataSize limits the size of strings and byte slices copied into the
// guest. Default is 1MB.
func WithMaxDataSize(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.maxData = n
		}
	}
}

// WithThreshold sets how many allocations trigger a collection. Zero turns
// allocation-triggered collection off.
func WithThreshold(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.threshold = n
		}
	}
}

// WithWASI controls whether WASI preview1 is instantiated for the guest
// (default: true).
func WithWASI(enabled bool) Option {
	return func(c *config) {
		c.wasi = enabled
	}
}
