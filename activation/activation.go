// Package activation tracks which products are switched on for each hotel.
package activation

import (
	"context"

	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusPaused || s == StatusInactive
}

// Activation is unique per (HotelID, ProductID).
type Activation struct {
	types.Entity
	ID        id.ActivationID `json:"id"`
	HotelID   string          `json:"hotel_id"`
	ProductID string          `json:"product_id"`
	Status    Status          `json:"status"`
}

type Store interface {
	// UpsertActivation inserts a or, when the (hotel, product) pair exists,
	// overwrites its status and updated_at in place.
	UpsertActivation(ctx context.Context, a *Activation) error
	GetActivation(ctx context.Context, hotelID, productID string) (*Activation, error)
	ListActivations(ctx context.Context, hotelID string) ([]*Activation, error)
}
