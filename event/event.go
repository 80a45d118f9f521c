// Package event records payment-provider webhook deliveries. A delivery is
// claimed by recording it before its effects are applied and released again
// if applying them fails.
package event

import (
	"context"
	"time"

	"github.com/xraph/hotelledger/id"
)

type Event struct {
	ID          id.EventID `json:"id"`
	Provider    string     `json:"provider"`
	ExternalID  string     `json:"external_id"`
	Type        string     `json:"type"`
	ProcessedAt time.Time  `json:"processed_at"`
}

type Store interface {
	HasEvent(ctx context.Context, provider, externalID string) (bool, error)
	// RecordEvent fails with ErrDuplicateEvent when (Provider, ExternalID)
	// was already recorded.
	RecordEvent(ctx context.Context, e *Event) error
	// DeleteEvent forgets a recorded event. Deleting an unknown event is
	// not an error.
	DeleteEvent(ctx context.Context, provider, externalID string) error
}
