package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saas-radar/internal/config"
	"github.com/sells-group/saas-radar/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	return openStore(ctx, cfg.Store)
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "radar.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{MaxConns: sc.MaxConns})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// withStore opens and migrates the configured store for the duration of fn.
func withStore(ctx context.Context, fn func(st store.Store) error) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}
	return fn(st)
}
