package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/realitylog/internal/tlog"
)

// openBackend builds the log backend named by storage.driver. The returned
// func releases anything the backend does not own (the Postgres pool).
func openBackend(ctx context.Context, logger *zap.Logger) (tlog.Backend, func(), error) {
	switch driver := viper.GetString("storage.driver"); driver {
	case "file":
		b, err := tlog.OpenFileBackend(viper.GetString("storage.dir"), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open file backend: %w", err)
		}
		return b, func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		b := tlog.NewPostgresBackend(pool, logger)
		if err := b.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("connected to postgres")
		return b, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage.driver %q (want file or postgres)", driver)
	}
}
