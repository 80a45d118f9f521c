package main

import (
	"context"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/hotelledger/extension"
	"github.com/xraph/hotelledger/store"
	"github.com/xraph/hotelledger/store/memory"
)

var storeFlags struct {
	driver string
	dsn    string
}

// openStore connects the backend selected by --store.
func openStore(ctx context.Context) (store.Store, error) {
	switch storeFlags.driver {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		dsn := storeFlags.dsn
		if dsn == "" {
			dsn = "file:hotelledger.db?_pragma=busy_timeout(5000)&_time_format=sqlite"
		}
		sdb := sqlitedriver.New()
		if err := sdb.Open(ctx, dsn); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(sdb)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return extension.StoreFor("sqlite", db)
	case "postgres", "pg":
		if storeFlags.dsn == "" {
			return nil, fmt.Errorf("--dsn is required for the postgres store")
		}
		pgdb := pgdriver.New()
		if err := pgdb.Open(ctx, storeFlags.dsn); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(pgdb)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return extension.StoreFor("postgres", db)
	default:
		return nil, fmt.Errorf("unknown store %q (want memory, sqlite or postgres)", storeFlags.driver)
	}
}
