// Package upkeep re-requests assessments for protocols whose scores have
// gone stale. Policy: every tick, scan all tracked protocols; a protocol
// is stale when it has never been assessed or its last update is older
// than the configured threshold; refresh the oldest stale protocols
// first, at most MaxBatch per tick, skipping protocols that already have
// a request in flight. The same tick also sweeps expired pending
// requests.
package upkeep

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/temi0x/chainguard/pkg/metrics"
	"github.com/temi0x/chainguard/pkg/models"
)

// registry is the slice of the oracle registry the monitor needs.
type registry interface {
	Snapshot() []models.ProtocolStatus
	RequestAssessment(ctx context.Context, protocolID string) (common.Hash, error)
	SweepPending(ctx context.Context) int
}

// Config tunes the monitor.
type Config struct {
	Interval  time.Duration
	Staleness time.Duration
	MaxBatch  int
}

// Monitor drives periodic refresh of stale risk records.
type Monitor struct {
	logger   *zap.Logger
	registry registry
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	stopChan  chan struct{}
	isRunning bool
}

// NewMonitor builds a monitor around the given registry.
func NewMonitor(logger *zap.Logger, reg registry, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 6 * time.Hour
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1
	}
	return &Monitor{
		logger:   logger,
		registry: reg,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start launches the refresh loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return fmt.Errorf("staleness monitor is already running")
	}
	m.stopChan = make(chan struct{})
	m.isRunning = true
	go m.run(m.stopChan)
	m.logger.Info("staleness monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("staleness", m.cfg.Staleness),
		zap.Int("max_batch", m.cfg.MaxBatch))
	return nil
}

// Stop terminates the refresh loop.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isRunning {
		return fmt.Errorf("staleness monitor is not running")
	}
	close(m.stopChan)
	m.isRunning = false
	m.logger.Info("staleness monitor stopped")
	return nil
}

func (m *Monitor) run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tick(context.Background())
		case <-stop:
			return
		}
	}
}

// tick performs one refresh pass.
func (m *Monitor) tick(ctx context.Context) {
	if evicted := m.registry.SweepPending(ctx); evicted > 0 {
		m.logger.Info("expired pending requests evicted", zap.Int("count", evicted))
	}

	cutoff := m.now().Add(-m.cfg.Staleness)
	var stale []models.ProtocolStatus
	for _, p := range m.registry.Snapshot() {
		if p.Pending > 0 {
			continue
		}
		if !p.Assessed() || p.LastUpdated.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return
	}

	// Never-assessed protocols have a zero LastUpdated and therefore
	// sort ahead of everything else.
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastUpdated.Before(stale[j].LastUpdated)
	})
	if len(stale) > m.cfg.MaxBatch {
		stale = stale[:m.cfg.MaxBatch]
	}

	for _, p := range stale {
		id, err := m.registry.RequestAssessment(ctx, p.ProtocolID)
		if err != nil {
			m.logger.Warn("stale refresh request failed",
				zap.String("protocol", p.ProtocolID), zap.Error(err))
			continue
		}
		metrics.StaleRefreshes.Inc()
		m.logger.Info("stale protocol refresh requested",
			zap.String("protocol", p.ProtocolID),
			zap.String("request_id", id.Hex()))
	}
}
