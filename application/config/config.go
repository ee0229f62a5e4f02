// Package config loads the rootscope configuration file and turns it into
// runtime options.
//
// Files are YAML, TOML or JSON, chosen by extension. Keys are snake_case in
// every format. Missing sections keep their defaults.
package config

// Collaborator names accepted in runtime.collaborator.
const (
	CollaboratorHeap   = "heap"
	CollaboratorWazero = "wazero"
)

// Config is the root of the configuration file.
type Config struct {
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime" toml:"runtime"`
	Stack   StackConfig   `json:"stack,omitempty" yaml:"stack" toml:"stack"`
	Heap    HeapConfig    `json:"heap,omitempty" yaml:"heap" toml:"heap"`
	Async   AsyncConfig   `json:"async,omitempty" yaml:"async" toml:"async"`
	Log     LogConfig     `json:"log,omitempty" yaml:"log" toml:"log"`
}

// RuntimeConfig selects the collected runtime.
type RuntimeConfig struct {
	Collaborator string       `json:"collaborator" yaml:"collaborator" toml:"collaborator" validate:"required,oneof=heap wazero" jsonschema:"enum=heap,enum=wazero"`
	InstanceID   string       `json:"instance_id,omitempty" yaml:"instance_id" toml:"instance_id" validate:"omitempty,uuid"`
	Guest        *GuestConfig `json:"guest,omitempty" yaml:"guest" toml:"guest" validate:"required_if=Collaborator wazero"`
}

// GuestConfig describes the WebAssembly guest of the wazero collaborator.
type GuestConfig struct {
	Path        string `json:"path" yaml:"path" toml:"path" validate:"required"`
	Module      string `json:"module,omitempty" yaml:"module" toml:"module"`
	MaxDataSize uint32 `json:"max_data_size,omitempty" yaml:"max_data_size" toml:"max_data_size"`
	WASI        *bool  `json:"wasi,omitempty" yaml:"wasi" toml:"wasi"`
}

// StackConfig tunes the scope stack.
type StackConfig struct {
	MaxDepth     int `json:"max_depth,omitempty" yaml:"max_depth" toml:"max_depth" validate:"gte=0"`
	InitialSlots int `json:"initial_slots,omitempty" yaml:"initial_slots" toml:"initial_slots" validate:"gte=0"`
}

// HeapConfig tunes collection in either collaborator.
type HeapConfig struct {
	Threshold int `json:"threshold,omitempty" yaml:"threshold" toml:"threshold" validate:"gte=0"`
}

// AsyncConfig tunes the task multiplexer.
type AsyncConfig struct {
	QueueCapacity     int `json:"queue_capacity,omitempty" yaml:"queue_capacity" toml:"queue_capacity" validate:"gte=1"`
	Workers           int `json:"workers,omitempty" yaml:"workers" toml:"workers" validate:"gte=1"`
	TaskFrameCapacity int `json:"task_frame_capacity,omitempty" yaml:"task_frame_capacity" toml:"task_frame_capacity" validate:"gte=0"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level" toml:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `json:"format,omitempty" yaml:"format" toml:"format" validate:"oneof=console json" jsonschema:"enum=console,enum=json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Runtime: RuntimeConfig{Collaborator: CollaboratorHeap},
		Stack:   StackConfig{InitialSlots: 8},
		Heap:    HeapConfig{Threshold: 1024},
		Async:   AsyncConfig{QueueCapacity: 64, Workers: 4},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}
