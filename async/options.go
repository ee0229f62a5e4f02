package async

import (
	"log/slog"
	"runtime"

	"github.com/reglet-dev/rootscope/host"
)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	logger        *slog.Logger
	hostOpts      []host.Option
	queueCapacity int
	workers       int
	taskFrameCap  int
}

func defaultConfig() config {
	return config{
		logger:        slog.Default(),
		queueCapacity: 64,
		workers:       max(runtime.NumCPU(), minWorkers),
	}
}

// minWorkers keeps a few offloads moving on small machines. An offload holds
// its permit until it returns, so a pool smaller than the number of parked
// tasks makes later offloads wait for earlier ones.
const minWorkers = 4

// WithLogger sets the logger for scheduling events. It is passed on to the
// host runtime as well.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithQueueCapacity bounds the number of tasks waiting to start.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithWorkers bounds how many offloads run concurrently. A blocked offload
// keeps its permit, so with fewer workers than parked tasks an offload that
// waits on another task's progress can stall the loop's resumption order.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithTaskFrameCapacity sets the capacity of each task's root frame. Zero,
// the default, makes it growable.
func WithTaskFrameCapacity(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.taskFrameCap = n
		}
	}
}

// WithHostOptions configures the host runtime the loop starts.
func WithHostOptions(opts ...host.Option) Option {
	return func(c *config) {
		c.hostOpts = append(c.hostOpts, opts...)
	}
}
