package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// broadcaster fans controller snapshots out to observers. A full subscriber
// loses its oldest pending snapshot, so the newest state always gets through.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Snapshot
	logger      *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		subscribers: make(map[string]chan Snapshot),
		logger:      logger,
	}
}

// subscribe registers a channel that is closed when ctx is done.
func (b *broadcaster) subscribe(ctx context.Context) <-chan Snapshot {
	subID := uuid.NewString()
	ch := make(chan Snapshot, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return ch
}

func (b *broadcaster) publish(snap Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// drop the oldest and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
			b.logger.Debug("dropped snapshot for slow subscriber", "sub_id", id)
		}
	}
}

func (b *broadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
