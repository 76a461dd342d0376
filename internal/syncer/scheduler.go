package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Scheduler runs the per-tenant sync loops. Each enabled tenant gets its
// own ticker; a tick is skipped when the previous pass for that tenant
// is still running, and a redis lock keeps two instances from syncing
// the same tenant at once.
type Scheduler struct {
	service     *Service
	configs     ConfigStore
	redis       *redis.Client
	metrics     *observability.Metrics
	logger      *slog.Logger
	refreshEach time.Duration
	minInterval time.Duration

	mu    sync.Mutex
	loops map[string]*tenantLoop
}

type tenantLoop struct {
	interval time.Duration
	cancel   context.CancelFunc
	running  sync.Mutex
}

// NewScheduler builds Scheduler. redis may be nil, which drops the
// cross-instance guard (single-instance deployments and tests).
func NewScheduler(service *Service, configs ConfigStore, rdb *redis.Client, metrics *observability.Metrics, minInterval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Scheduler{
		service:     service,
		configs:     configs,
		redis:       rdb,
		metrics:     metrics,
		logger:      logger,
		refreshEach: 15 * time.Second,
		minInterval: minInterval,
		loops:       map[string]*tenantLoop{},
	}
}

// Run blocks, reconciling tenant loops against stored configs until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.reconcile(ctx)
	ticker := time.NewTicker(s.refreshEach)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return nil
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile starts loops for newly enabled tenants, restarts loops whose
// interval changed and stops loops for disabled tenants.
func (s *Scheduler) reconcile(ctx context.Context) {
	configs, err := s.configs.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("list sync configs", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := make(map[string]time.Duration, len(configs))
	for _, cfg := range configs {
		interval := cfg.Interval
		if interval < s.minInterval {
			interval = s.minInterval
		}
		enabled[cfg.TenantID] = interval
	}

	for tenantID, loop := range s.loops {
		interval, ok := enabled[tenantID]
		if ok && interval == loop.interval {
			continue
		}
		loop.cancel()
		delete(s.loops, tenantID)
	}

	for tenantID, interval := range enabled {
		if _, ok := s.loops[tenantID]; ok {
			continue
		}
		loopCtx, cancel := context.WithCancel(ctx)
		loop := &tenantLoop{interval: interval, cancel: cancel}
		s.loops[tenantID] = loop
		go s.runLoop(loopCtx, tenantID, loop)
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tenantID, loop := range s.loops {
		loop.cancel()
		delete(s.loops, tenantID)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, tenantID string, loop *tenantLoop) {
	ticker := time.NewTicker(loop.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, tenantID, loop)
		}
	}
}

// Tick runs one guarded sync pass. Exported for tests.
func (s *Scheduler) Tick(ctx context.Context, tenantID string, loop *tenantLoop) {
	if !loop.running.TryLock() {
		// Previous pass still running, skip rather than pile up.
		s.metrics.ObserveSyncTick("skipped", 0)
		return
	}
	defer loop.running.Unlock()

	release, ok := s.acquireTickLock(ctx, tenantID, loop.interval)
	if !ok {
		s.metrics.ObserveSyncTick("skipped", 0)
		return
	}
	defer release()

	if _, err := s.service.SyncTenant(ctx, tenantID); err != nil {
		s.logger.Error("sync tick", slog.String("tenant_id", tenantID), slog.Any("error", err))
	}
}

// NewLoop builds a detached tenant loop handle for manual ticking in
// tests and one-shot callers.
func (s *Scheduler) NewLoop(interval time.Duration) *tenantLoop {
	return &tenantLoop{interval: interval, cancel: func() {}}
}

// acquireTickLock takes the cross-instance tick lock. The TTL outlives
// the interval slightly so a crashed holder frees the tenant quickly.
func (s *Scheduler) acquireTickLock(ctx context.Context, tenantID string, interval time.Duration) (func(), bool) {
	if s.redis == nil {
		return func() {}, true
	}
	key := shared.SyncTickLockKey(tenantID)
	ttl := interval * 2
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.redis.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		s.logger.Error("acquire tick lock", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return func() {}, false
	}
	if !ok {
		return func() {}, false
	}
	return func() {
		if err := s.redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			s.logger.Error("release tick lock", slog.String("tenant_id", tenantID), slog.Any("error", err))
		}
	}, true
}
