package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RegistrySchema holds the game server registry tables.
const RegistrySchema = "worlds"

// PoolConfig configures the registry pool. Zero values keep the pgx defaults.
type PoolConfig struct {
	ConnString      string
	ApplicationName string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// PingTimeout bounds the startup connectivity check.
	PingTimeout time.Duration
}

// NewPool opens the registry pool with search_path pinned to the registry schema,
// then pings it so a misconfigured DATABASE_URL fails at startup.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.ConnString == "" {
		return nil, errors.New("registry connection string is required")
	}

	pc, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse registry connection string: %w", err)
	}

	params := pc.ConnConfig.RuntimeParams
	if _, set := params["search_path"]; !set {
		params["search_path"] = RegistrySchema + ",public"
	}
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= pc.MaxConns {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create registry pool: %w", err)
	}

	pingCtx := ctx
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping registry: %w", err)
	}
	return pool, nil
}

// ClosePool closes pool if it is non-nil.
func ClosePool(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	pool.Close()
}
