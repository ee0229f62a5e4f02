package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/reglet-dev/rootscope/async"
	"github.com/reglet-dev/rootscope/domain/ports"
	"github.com/reglet-dev/rootscope/host"
	"github.com/reglet-dev/rootscope/infrastructure/heap"
	"github.com/reglet-dev/rootscope/infrastructure/wazero"
	rslog "github.com/reglet-dev/rootscope/log"
	"github.com/reglet-dev/rootscope/memory"
)

// Logger builds the logger described by the log section.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := rslog.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	return rslog.New(w, rslog.WithLevel(level), rslog.WithJSON(c.Log.Format == "json")), nil
}

// Collaborator builds the collected runtime the runtime section selects.
func (c Config) Collaborator(logger *slog.Logger) (ports.Runtime, error) {
	switch c.Runtime.Collaborator {
	case CollaboratorHeap:
		return heap.New(heap.WithLogger(logger), heap.WithThreshold(c.Heap.Threshold)), nil
	case CollaboratorWazero:
		g := c.Runtime.Guest
		if g == nil {
			return nil, fmt.Errorf("config: wazero collaborator needs a guest section")
		}
		wasm, err := os.ReadFile(g.Path)
		if err != nil {
			return nil, fmt.Errorf("config: read guest: %w", err)
		}
		opts := []wazero.Option{
			wazero.WithLogger(logger),
			wazero.WithThreshold(c.Heap.Threshold),
			wazero.WithModuleName(g.Module),
			wazero.WithMaxDataSize(g.MaxDataSize),
		}
		if g.WASI != nil {
			opts = append(opts, wazero.WithWASI(*g.WASI))
		}
		return wazero.New(wasm, opts...), nil
	}
	return nil, fmt.Errorf("config: unknown collaborator %q", c.Runtime.Collaborator)
}

// HostOptions returns the options for host.Start.
func (c Config) HostOptions(logger *slog.Logger) []host.Option {
	opts := []host.Option{
		host.WithLogger(logger),
		host.WithStackOptions(
			memory.WithMaxDepth(c.Stack.MaxDepth),
			memory.WithInitialSlots(c.Stack.InitialSlots),
		),
	}
	if c.Runtime.InstanceID != "" {
		opts = append(opts, host.WithInstanceID(c.Runtime.InstanceID))
	}
	return opts
}

// AsyncOptions returns the options for async.Start, host options included.
func (c Config) AsyncOptions(logger *slog.Logger) []async.Option {
	return []async.Option{
		async.WithLogger(logger),
		async.WithQueueCapacity(c.Async.QueueCapacity),
		async.WithWorkers(c.Async.Workers),
		async.WithTaskFrameCapacity(c.Async.TaskFrameCapacity),
		async.WithHostOptions(c.HostOptions(logger)...),
	}
}
