package hotelledger

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/hotelledger/event"
	"github.com/xraph/hotelledger/id"
)

// EventProcessed reports whether a provider event was already applied.
func (l *Ledger) EventProcessed(ctx context.Context, provider, externalID string) (bool, error) {
	return l.store.HasEvent(ctx, provider, externalID)
}

// MarkEventProcessed records a provider event as applied. Recording an
// event twice is not an error; the second call reports recorded=false.
func (l *Ledger) MarkEventProcessed(ctx context.Context, provider, externalID, eventType string) (recorded bool, err error) {
	if provider == "" {
		return false, Required("provider")
	}
	if externalID == "" {
		return false, Required("event_id")
	}

	err = l.store.RecordEvent(ctx, &event.Event{
		ID:          id.NewEventID(),
		Provider:    provider,
		ExternalID:  externalID,
		Type:        eventType,
		ProcessedAt: time.Now().UTC(),
	})
	if errors.Is(err, ErrDuplicateEvent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseEvent forgets a recorded provider event so a redelivery applies it
// again.
func (l *Ledger) ReleaseEvent(ctx context.Context, provider, externalID string) error {
	return l.store.DeleteEvent(ctx, provider, externalID)
}
