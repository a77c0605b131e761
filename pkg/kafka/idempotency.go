package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IdempotencyStore remembers processed event IDs. Implementations must be
// safe for concurrent use. This is a fast-path filter; handlers that need a
// hard exactly-once guarantee record the event ID transactionally in their
// own storage.
type IdempotencyStore interface {
	// Contains reports whether the event ID was already processed.
	Contains(ctx context.Context, eventID string) (bool, error)
	// Add records an event ID after its handler succeeded.
	Add(ctx context.Context, eventID string) error
}

// MemoryIdempotencyStore keeps processed IDs in a map with lazy TTL expiry.
// Good enough for development and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewMemoryIdempotencyStore builds a store whose entries expire after ttl.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

func (s *MemoryIdempotencyStore) Contains(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	ts, exists := s.entries[eventID]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Since(ts) > s.ttl {
		s.mu.Lock()
		delete(s.entries, eventID)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

func (s *MemoryIdempotencyStore) Add(_ context.Context, eventID string) error {
	s.mu.Lock()
	s.entries[eventID] = time.Now()
	s.mu.Unlock()
	return nil
}

// Len counts entries, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IdempotentHandler skips events whose ID the store has seen. The ID is
// recorded only after inner succeeds, so a failed handler gets the event
// again on redelivery. Store errors fall open: processing a duplicate beats
// dropping a live event.
func IdempotentHandler(store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		seen, err := store.Contains(ctx, event.EventID)
		if err != nil {
			logger.Warn("idempotency store lookup failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return inner(ctx, event)
		}

		if seen {
			logger.Debug("skipping duplicate event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
				slog.String("aggregate_id", event.AggregateID),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if addErr := store.Add(ctx, event.EventID); addErr != nil {
			logger.Warn("failed to record event ID in idempotency store",
				slog.String("event_id", event.EventID),
				slog.String("error", addErr.Error()),
			)
		}

		return nil
	}
}
