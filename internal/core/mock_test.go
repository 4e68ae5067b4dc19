package core

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/revive/internal/model"
)

// ---------- Mock Reconciler ----------

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Enqueue(mac string, desired model.CompiledRuleSet, reason string) {
	m.Called(mac, desired, reason)
}

func (m *mockReconciler) Status(mac string) (model.ApplyStatus, bool) {
	args := m.Called(mac)
	return args.Get(0).(model.ApplyStatus), args.Bool(1)
}

// ---------- Memory repository ----------

type memRepo struct {
	mu       sync.Mutex
	policies map[string]model.PolicyRecord
	devices  map[string]model.Device
	err      error
}

func newMemRepo() *memRepo {
	return &memRepo{policies: map[string]model.PolicyRecord{}, devices: map[string]model.Device{}}
}

func (r *memRepo) SavePolicy(_ context.Context, mac string, rec model.PolicyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.policies[mac] = rec
	return nil
}

func (r *memRepo) DeletePolicy(_ context.Context, mac string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, mac)
	return r.err
}

func (r *memRepo) SaveDevice(_ context.Context, d model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.MAC] = d
	return r.err
}

// ---------- Stats ----------

type fixedStats model.Stats

func (f fixedStats) Current(context.Context) model.Stats { return model.Stats(f) }
