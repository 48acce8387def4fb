package app

import (
	"sync"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// Broadcast delivers every event to all subscribed sinks in subscription
// order. The orchestrator is built once against it; the serve and run
// commands subscribe the sink they need.
type Broadcast struct {
	mu    sync.RWMutex
	sinks []ports.NotificationSink
}

// NewBroadcast returns a broadcast with no subscribers.
func NewBroadcast() *Broadcast {
	return &Broadcast{}
}

// Subscribe adds sink.
func (b *Broadcast) Subscribe(sink ports.NotificationSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Notify implements ports.NotificationSink.
func (b *Broadcast) Notify(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sink := range b.sinks {
		sink.Notify(event)
	}
}
