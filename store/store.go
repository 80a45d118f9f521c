package store

import (
	"context"

	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/event"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/subscription"
)

// Store is the unified storage interface for all hotel ledger entities.
// Method names are unique across the sub-interfaces so they can be embedded.
type Store interface {
	organization.Store
	subscription.Store
	credit.Store
	activation.Store
	event.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
