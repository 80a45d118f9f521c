package hotelledger

import "github.com/xraph/hotelledger/types"

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	USD        = types.USD
	EUR        = types.EUR
	Zero       = types.Zero
	FromMajor  = types.FromMajor
	ParseMajor = types.ParseMajor
)
