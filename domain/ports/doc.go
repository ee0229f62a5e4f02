// Package ports defines the interfaces between the rooting layer and the
// collected runtime it protects.
// The rooting layer depends on these abstractions; infrastructure adapters
// (the reference heap, the wazero-hosted guest) implement them.
package ports
