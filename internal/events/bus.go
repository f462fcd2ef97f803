// Package events provides the observer bus that components use to surface
// lifecycle notifications to the surrounding application. Event names are a
// public contract; collaborators subscribe by name and must not be renamed.
package events

import (
	"encoding/json"
	"sync"
)

// Type identifies an event category.
type Type string

// Network-side events.
const (
	NodeConnected      Type = "nodeConnected"
	NodeDisconnected   Type = "nodeDisconnected"
	MessageReceived    Type = "messageReceived"
	MessageSent        Type = "messageSent"
	MessageBroadcast   Type = "messageBroadcast"
	ResourceRequest    Type = "resourceRequest"
	DataShare          Type = "dataShare"
	PatternUpdate      Type = "patternUpdate"
	ConsensusRequest   Type = "consensusRequest"
	NodeDiscovery      Type = "nodeDiscovery"
	UnknownMessageType Type = "unknownMessageType"
	ServerClosed       Type = "serverClosed"
)

// Privacy-side events.
const (
	PolicyUpdated     Type = "policyUpdated"
	ConsentGranted    Type = "consentGranted"
	ConsentRevoked    Type = "consentRevoked"
	TrustScoreUpdated Type = "trustScoreUpdated"
)

// Error is emitted by both sides for per-call failures recovered locally.
const Error Type = "error"

// ErrorEvent is the payload carried by Error events.
type ErrorEvent struct {
	Scope   string // Scope is the emitting component ("network" or "privacy")
	Context string // Context describes the failing operation
	Err     error  // Err is the underlying cause
}

// MarshalJSON renders the underlying error as a string so error events can
// be persisted.
func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(map[string]string{
		"scope":   e.Scope,
		"context": e.Context,
		"error":   msg,
	})
}

// Handler receives an emitted event and its payload.
// Handlers run synchronously on the emitting goroutine and must not block.
type Handler func(evt Type, payload any)

// Bus is a minimal publish/subscribe dispatcher keyed by event type.
type Bus struct {
	mu   sync.RWMutex
	subs map[Type][]Handler
	all  []Handler // all receives every emitted event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]Handler)}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(evt Type, h Handler) {
	if h == nil {
		return
	}

	b.mu.Lock()
	b.subs[evt] = append(b.subs[evt], h)
	b.mu.Unlock()
}

// SubscribeAll registers a handler that receives every emitted event,
// regardless of type.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}

	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Emit delivers the payload to every handler subscribed to evt, then to the
// catch-all handlers.
func (b *Bus) Emit(evt Type, payload any) {
	b.mu.RLock()
	handlers := b.subs[evt]
	all := b.all
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt, payload)
	}

	for _, h := range all {
		h(evt, payload)
	}
}
