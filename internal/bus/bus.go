// Package bus is a small in-process pub/sub for write signals. Core services
// publish a signal after every committed write; the cache layer subscribes
// and invalidates. The core itself holds no caches.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/logger"
)

type Signal string

const (
	SignalSessionChanged   Signal = "SessionChanged"
	SignalThreadsChanged   Signal = "ThreadsChanged"
	SignalSnapshotsChanged Signal = "SnapshotsChanged"
)

type Message struct {
	UserID uuid.UUID
	Signal Signal
}

type Handler func(msg Message)

type Bus struct {
	mu       sync.RWMutex
	logger   *logger.Logger
	handlers []Handler
}

func New(log *logger.Logger) *Bus {
	return &Bus{logger: log.With("component", "WriteBus")}
}

func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish runs handlers synchronously; handlers must not block. Called after
// commit, never inside a transaction.
func (b *Bus) Publish(userID uuid.UUID, sig Signal) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	msg := Message{UserID: userID, Signal: sig}
	for _, h := range handlers {
		h(msg)
	}
	b.logger.Debug("write signal published", "userID", userID, "signal", string(sig))
}
