// Package stats serves the engine's aggregate counters for display. It
// never fails a caller: when the engine cannot be read the last snapshot is
// returned marked stale.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/edvin/revive/internal/adguard"
	"github.com/edvin/revive/internal/model"
)

var (
	statsStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revive_stats_stale",
		Help: "1 when the last engine stats read failed",
	})
	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revive_stats_fetch_failures_total",
		Help: "Engine stats reads that failed",
	})
)

// Source reads the engine's counters.
type Source interface {
	Stats(ctx context.Context) (*adguard.EngineStats, error)
}

// DeviceCounter reports how many devices are connected.
type DeviceCounter interface {
	Count() int
}

// Collector is the StatsCollector.
type Collector struct {
	source   Source
	devices  DeviceCounter
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	group singleflight.Group

	mu   sync.RWMutex
	last model.Stats
}

// New creates a Collector. timeout bounds a single upstream read.
func New(source Source, devices DeviceCounter, interval, timeout time.Duration, logger zerolog.Logger) *Collector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Collector{
		source:   source,
		devices:  devices,
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "stats").Logger(),
		last:     model.Stats{Stale: true},
	}
}

// Current fetches fresh counters. Concurrent callers share one upstream
// read. On failure the previous snapshot is returned with Stale set.
func (c *Collector) Current(ctx context.Context) model.Stats {
	ch := c.group.DoChan("stats", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(model.Stats)
	case <-ctx.Done():
		return c.Snapshot()
	}
}

// Snapshot returns the last result without contacting the engine.
func (c *Collector) Snapshot() model.Stats {
	c.mu.RLock()
	s := c.last
	c.mu.RUnlock()
	if c.devices != nil {
		s.ConnectedDevices = c.devices.Count()
	}
	return s
}

// Run refreshes on every interval until ctx is done. A zero interval
// disables background refresh.
func (c *Collector) Run(ctx context.Context) error {
	if c.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.Current(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Collector) refresh(ctx context.Context) model.Stats {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	es, err := c.source.Stats(ctx)
	if err != nil {
		fetchFailures.Inc()
		statsStale.Set(1)
		c.logger.Warn().Err(err).Str("kind", string(adguard.KindOf(err))).Msg("engine stats unavailable, serving last snapshot")

		c.mu.Lock()
		c.last.Stale = true
		c.mu.Unlock()
		return c.Snapshot()
	}

	s := model.Stats{
		QueriesToday:    es.NumDNSQueries,
		BlockedToday:    es.NumBlockedFiltering,
		AvgProcessingMS: es.AvgProcessingTime * 1000,
		FetchedAt:       c.now().UTC(),
	}
	statsStale.Set(0)

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	return c.Snapshot()
}
