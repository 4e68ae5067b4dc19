package core

import (
	"context"

	"github.com/edvin/revive/internal/model"
)

// DashboardStats is the stats view shown to the administrator.
type DashboardStats struct {
	model.Stats
	RegistryStale bool `json:"registry_stale"`
}

type DashboardService struct {
	stats    StatsSource
	registry Registry
}

func NewDashboardService(stats StatsSource, registry Registry) *DashboardService {
	return &DashboardService{stats: stats, registry: registry}
}

// Stats returns the engine counters. It never fails; stale data is flagged.
func (s *DashboardService) Stats(ctx context.Context) DashboardStats {
	return DashboardStats{
		Stats:         s.stats.Current(ctx),
		RegistryStale: s.registry.Stale(),
	}
}
