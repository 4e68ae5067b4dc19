package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/revive/internal/adguard"
	"github.com/edvin/revive/internal/events"
	"github.com/edvin/revive/internal/model"
)

type mockConverger struct {
	mock.Mock
	mu      sync.Mutex
	running map[string]int
	overlap bool
}

func (m *mockConverger) Converge(ctx context.Context, t Target, desired model.CompiledRuleSet) (Result, error) {
	m.mu.Lock()
	if m.running == nil {
		m.running = make(map[string]int)
	}
	m.running[t.MAC]++
	if m.running[t.MAC] > 1 {
		m.overlap = true
	}
	m.mu.Unlock()

	args := m.Called(ctx, t, desired)

	m.mu.Lock()
	m.running[t.MAC]--
	m.mu.Unlock()
	return args.Get(0).(Result), args.Error(1)
}

func runPool(t *testing.T, p *Pool) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestPool_AppliesAndPublishes(t *testing.T) {
	conv := &mockConverger{}
	target := Target{MAC: "a", Address: "192.168.4.10", Name: "tablet"}
	conv.On("Converge", mock.Anything, target, bedtime).
		Return(Result{Attempts: 1, Changes: []FieldChange{{Document: DocAccess, Field: "disallowed_clients"}}}, nil)

	bus := events.New(8, zerolog.Nop())
	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	tracker := NewTracker(time.Minute)
	p := NewPool(PoolOptions{
		Queue:     NewQueue(),
		Tracker:   tracker,
		Converger: conv,
		Resolve:   func(mac string) Target { return target },
		Events:    bus,
		Workers:   2,
		Logger:    zerolog.Nop(),
	})
	stop := runPool(t, p)
	defer stop()

	p.Enqueue("a", bedtime, "test")

	select {
	case ev := <-sub:
		assert.Equal(t, events.ReconcileApplied, ev.Type)
		assert.Equal(t, "a", ev.Device)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
	require.Eventually(t, func() bool {
		st, ok := tracker.Status("a")
		return ok && st.Applied
	}, time.Second, 5*time.Millisecond)
	conv.AssertExpectations(t)
}

func TestPool_FailureIsRecorded(t *testing.T) {
	conv := &mockConverger{}
	authErr := &adguard.Error{Kind: model.FailureEngineAuth, Op: "list clients", Status: 401}
	conv.On("Converge", mock.Anything, mock.Anything, mock.Anything).Return(Result{Attempts: 1}, authErr)

	tracker := NewTracker(time.Minute)
	p := NewPool(PoolOptions{Queue: NewQueue(), Tracker: tracker, Converger: conv, Logger: zerolog.Nop()})
	stop := runPool(t, p)
	defer stop()

	p.Enqueue("a", bedtime, "test")
	require.Eventually(t, func() bool {
		st, ok := tracker.Status("a")
		return ok && st.Phase == model.PhaseFailed
	}, time.Second, 5*time.Millisecond)

	st, _ := tracker.Status("a")
	assert.Equal(t, model.FailureEngineAuth, st.FailureKind)
	assert.Contains(t, st.LastError, "status 401")
}

func TestPool_NoConcurrentWorkForOneDevice(t *testing.T) {
	conv := &mockConverger{}
	conv.On("Converge", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(5 * time.Millisecond) }).
		Return(Result{Attempts: 1}, nil)

	tracker := NewTracker(0)
	p := NewPool(PoolOptions{Queue: NewQueue(), Tracker: tracker, Converger: conv, Workers: 4, Logger: zerolog.Nop()})
	stop := runPool(t, p)

	for i := 0; i < 20; i++ {
		rules := bedtime
		if i%2 == 0 {
			rules = openRule
		}
		p.Enqueue("a", rules, "burst")
		time.Sleep(time.Millisecond)
	}
	p.Enqueue("a", openRule, "final")

	require.Eventually(t, func() bool {
		st, ok := tracker.Status("a")
		return ok && st.Applied && st.AppliedState == model.StateUnrestricted
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	conv.mu.Lock()
	defer conv.mu.Unlock()
	assert.False(t, conv.overlap, "a device was converged by two workers at once")
	assert.Less(t, len(conv.Calls), 21, "waiting requests were coalesced")
}
