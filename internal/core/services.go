// Package core implements the administrator command surface on top of the
// registry, policy store, compiler and reconcile pool.
package core

import (
	"context"
	"time"

	"github.com/edvin/revive/internal/config"
	"github.com/edvin/revive/internal/model"
	"github.com/edvin/revive/internal/policy"
)

// Registry is the device registry as seen by the command surface.
type Registry interface {
	List() []model.Device
	Get(mac string) (model.Device, bool)
	LookupByAddress(addr string) (model.Device, bool)
	Rename(ctx context.Context, mac, name string) (model.Device, error)
	Stale() bool
}

// Policies is the policy store as seen by the command surface.
type Policies interface {
	Lookup(mac string) (model.PolicyRecord, bool)
	All() map[string]model.PolicyRecord
	Set(ctx context.Context, mac string, mutations ...policy.Mutation) (model.PolicyRecord, error)
	Delete(ctx context.Context, mac string) error
}

// Compiler evaluates policies.
type Compiler interface {
	Compile(rec model.PolicyRecord, now time.Time) model.CompiledRuleSet
	Catalog() *config.Catalog
}

// Reconciler accepts convergence requests and reports their progress.
type Reconciler interface {
	Enqueue(mac string, desired model.CompiledRuleSet, reason string)
	Status(mac string) (model.ApplyStatus, bool)
}

// Publisher receives change notifications.
type Publisher interface {
	Publish(typ, device string, data any)
}

// StatsSource serves aggregate counters.
type StatsSource interface {
	Current(ctx context.Context) model.Stats
}

// Services groups the command-surface services.
type Services struct {
	Device    *DeviceService
	Dashboard *DashboardService
}

// NewServices wires the services together.
func NewServices(reg Registry, policies Policies, compiler Compiler, rec Reconciler, stats StatsSource, events Publisher) *Services {
	return &Services{
		Device:    NewDeviceService(reg, policies, compiler, rec, events),
		Dashboard: NewDashboardService(stats, reg),
	}
}
