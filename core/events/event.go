// Package events defines the structured state-change notifications emitted by
// the stablecoin core. Every mutating ledger operation produces exactly one
// event, giving operators an auditable record of (caller, pool, new value).
package events

import "log/slog"

// Event represents a structured state change emitted by the core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (RPC, indexers, logs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events. Components treat
// a nil emitter as noop so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MemoryEmitter retains emitted events in order. It exists for tests and for
// the in-process query surface; it is not safe for concurrent use.
type MemoryEmitter struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (m *MemoryEmitter) Emit(evt Event) {
	m.Events = append(m.Events, evt)
}

// LogEmitter writes each event to a structured logger at debug level. A nil
// Logger falls back to the process default.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the Emitter interface.
func (l LogEmitter) Emit(evt Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("core event", "type", evt.EventType(), "event", evt)
}
