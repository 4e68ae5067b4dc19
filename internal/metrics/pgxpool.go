package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// StatSource is satisfied by *pgxpool.Pool.
type StatSource interface {
	Stat() *pgxpool.Stat
}

// RegisterPgxPoolMetrics exposes the state store's connection pool
// statistics as gauges.
func RegisterPgxPoolMetrics(reg prometheus.Registerer, pool StatSource) error {
	gauges := []struct {
		name, help string
		value      func(*pgxpool.Stat) float64
	}{
		{"revive_store_pool_acquired_conns", "Number of currently acquired state store connections",
			func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
		{"revive_store_pool_max_conns", "Maximum number of state store connections",
			func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
		{"revive_store_pool_total_conns", "Total number of state store connections",
			func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
		{"revive_store_pool_idle_conns", "Number of idle state store connections",
			func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
	}
	for _, g := range gauges {
		value := g.value
		if err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, func() float64 {
			return value(pool.Stat())
		})); err != nil {
			return err
		}
	}
	return nil
}
