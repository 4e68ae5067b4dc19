package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/compiler"
	"github.com/edvin/revive/internal/config"
	"github.com/edvin/revive/internal/core"
	"github.com/edvin/revive/internal/events"
	"github.com/edvin/revive/internal/model"
	"github.com/edvin/revive/internal/policy"
	"github.com/edvin/revive/internal/registry"
)

var errStoreDown = errors.New("disk full")

// ---------- Reconciler ----------

type enqueued struct {
	MAC     string
	Desired model.CompiledRuleSet
	Reason  string
}

// fakeReconciler records requests and reports every device it has seen as
// pending.
type fakeReconciler struct {
	mu   sync.Mutex
	reqs []enqueued
}

func (f *fakeReconciler) Enqueue(mac string, desired model.CompiledRuleSet, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, enqueued{MAC: mac, Desired: desired, Reason: reason})
}

func (f *fakeReconciler) Status(mac string) (model.ApplyStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.reqs) - 1; i >= 0; i-- {
		if f.reqs[i].MAC == mac {
			return model.ApplyStatus{Phase: model.PhasePending, Desired: f.reqs[i].Desired.State}, true
		}
	}
	return model.ApplyStatus{}, false
}

func (f *fakeReconciler) requests() []enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueued(nil), f.reqs...)
}

// ---------- Repository ----------

type memRepo struct {
	mu  sync.Mutex
	err error
}

func (r *memRepo) SavePolicy(context.Context, string, model.PolicyRecord) error { return r.fail() }
func (r *memRepo) DeletePolicy(context.Context, string) error                   { return r.fail() }
func (r *memRepo) SaveDevice(context.Context, model.Device) error               { return r.fail() }

func (r *memRepo) fail() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ---------- Stats ----------

type fixedStats model.Stats

func (f fixedStats) Current(context.Context) model.Stats { return model.Stats(f) }

// ---------- Fixture ----------

type fixture struct {
	services *core.Services
	store    *policy.Store
	rec      *fakeReconciler
	repo     *memRepo
	bus      *events.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := &memRepo{}
	reg := registry.New(registry.Options{Repo: repo, Logger: zerolog.Nop()})
	now := time.Now()
	reg.Load(map[string]model.Device{
		tabletMAC: {Address: tabletIP, DisplayName: "tablet", LastSeen: now},
		laptopMAC: {Address: laptopIP, DisplayName: "laptop", LastSeen: now},
	})
	store := policy.New(repo, config.DefaultCatalog(), zerolog.Nop())
	comp := compiler.New(config.DefaultCatalog(), time.UTC)
	rec := &fakeReconciler{}
	bus := events.New(16, zerolog.Nop())

	services := core.NewServices(reg, store, comp, rec, fixedStats{
		QueriesToday:    1200,
		BlockedToday:    87,
		AvgProcessingMS: 4.5,
	}, bus)
	store.OnChange = services.Device.PolicyChanged

	return &fixture{services: services, store: store, rec: rec, repo: repo, bus: bus}
}
