package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config is the per-tenant sync scheduler state. Persisted so the
// schedule survives restarts and is shared across instances.
type Config struct {
	TenantID        string        `json:"-"`
	AutoSyncEnabled bool          `json:"autoSyncEnabled"`
	Interval        time.Duration `json:"-"`
	LastSyncAt      *time.Time    `json:"lastSyncAt,omitempty"`
	LastSyncCount   int           `json:"lastSyncCount"`
}

// ConfigStore persists sync configs.
type ConfigStore interface {
	Get(ctx context.Context, tenantID string) (Config, error)
	Put(ctx context.Context, cfg Config) error
	RecordRun(ctx context.Context, tenantID string, at time.Time, count int) error
	ListEnabled(ctx context.Context) ([]Config, error)
}

// PGConfigStore keeps sync configs in PostgreSQL.
type PGConfigStore struct {
	pool            *pgxpool.Pool
	defaultInterval time.Duration
}

// NewPGConfigStore constructs PGConfigStore. defaultInterval applies to
// tenants with no stored config.
func NewPGConfigStore(pool *pgxpool.Pool, defaultInterval time.Duration) *PGConfigStore {
	return &PGConfigStore{pool: pool, defaultInterval: defaultInterval}
}

// Get returns the tenant config, falling back to an enabled default for
// tenants that never touched their settings.
func (s *PGConfigStore) Get(ctx context.Context, tenantID string) (Config, error) {
	var cfg Config
	var intervalMs int64
	err := s.pool.QueryRow(ctx, `SELECT tenant_id, auto_sync_enabled, interval_ms, last_sync_at, last_sync_count
FROM sync_configs WHERE tenant_id = $1`, tenantID).
		Scan(&cfg.TenantID, &cfg.AutoSyncEnabled, &intervalMs, &cfg.LastSyncAt, &cfg.LastSyncCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{TenantID: tenantID, AutoSyncEnabled: true, Interval: s.defaultInterval}, nil
	}
	if err != nil {
		return Config{}, err
	}
	cfg.Interval = time.Duration(intervalMs) * time.Millisecond
	if cfg.Interval <= 0 {
		cfg.Interval = s.defaultInterval
	}
	return cfg, nil
}

// Put stores the tenant config.
func (s *PGConfigStore) Put(ctx context.Context, cfg Config) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO sync_configs (tenant_id, auto_sync_enabled, interval_ms, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (tenant_id) DO UPDATE SET auto_sync_enabled=EXCLUDED.auto_sync_enabled, interval_ms=EXCLUDED.interval_ms, updated_at=NOW()`,
		cfg.TenantID, cfg.AutoSyncEnabled, cfg.Interval.Milliseconds())
	return err
}

// RecordRun persists the outcome of a sync pass.
func (s *PGConfigStore) RecordRun(ctx context.Context, tenantID string, at time.Time, count int) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO sync_configs (tenant_id, auto_sync_enabled, interval_ms, last_sync_at, last_sync_count, updated_at)
VALUES ($1, TRUE, 0, $2, $3, NOW())
ON CONFLICT (tenant_id) DO UPDATE SET last_sync_at=EXCLUDED.last_sync_at, last_sync_count=EXCLUDED.last_sync_count, updated_at=NOW()`,
		tenantID, at, count)
	return err
}

// ListEnabled returns configs for every tenant with auto sync on.
func (s *PGConfigStore) ListEnabled(ctx context.Context) ([]Config, error) {
	rows, err := s.pool.Query(ctx, `SELECT tenant_id, auto_sync_enabled, interval_ms, last_sync_at, last_sync_count
FROM sync_configs WHERE auto_sync_enabled = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []Config{}
	for rows.Next() {
		var cfg Config
		var intervalMs int64
		if err := rows.Scan(&cfg.TenantID, &cfg.AutoSyncEnabled, &intervalMs, &cfg.LastSyncAt, &cfg.LastSyncCount); err != nil {
			return nil, err
		}
		cfg.Interval = time.Duration(intervalMs) * time.Millisecond
		if cfg.Interval <= 0 {
			cfg.Interval = s.defaultInterval
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
