package hotelledger

import "github.com/xraph/hotelledger/id"

// ID is the primary identifier type for all hotel ledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
