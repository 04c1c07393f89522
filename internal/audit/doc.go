// Package audit delivers security audit events asynchronously.
//
// A [Dispatcher] buffers events and relays them to one [Sink] from a
// single goroutine. Sinks: channel (tests), JSON lines, zap, no-op.
//
// The package decides nothing about which events exist beyond the type
// constants; callers choose what to emit.
package audit
