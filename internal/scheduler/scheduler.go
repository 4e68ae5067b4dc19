// Package scheduler re-evaluates every device's effective policy against the
// wall clock and requests convergence when it changes.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/events"
	"github.com/edvin/revive/internal/model"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revive_scheduler_ticks_total",
		Help: "Scheduler evaluations",
	})
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revive_scheduler_transitions_total",
		Help: "Effective state transitions observed by the scheduler",
	}, []string{"to"})
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revive_scheduler_enqueued_total",
		Help: "Convergence requests issued by the scheduler",
	}, []string{"reason"})
)

// Policies lists stored policy records and evaluates one record inside its
// device's critical section.
type Policies interface {
	All() map[string]model.PolicyRecord
	Inspect(mac string, fn func(rec model.PolicyRecord, ok bool))
}

// Compiler evaluates a record at an instant.
type Compiler interface {
	Compile(rec model.PolicyRecord, now time.Time) model.CompiledRuleSet
}

// Tracker remembers what was last requested for each device.
type Tracker interface {
	NeedsWork(mac string, desired model.CompiledRuleSet, now time.Time) bool
	Status(mac string) (model.ApplyStatus, bool)
	FailedDevices() []string
}

// Enqueuer accepts convergence requests without blocking.
type Enqueuer interface {
	Enqueue(mac string, desired model.CompiledRuleSet, reason string)
}

// Publisher receives transition notifications.
type Publisher interface {
	Publish(typ, device string, data any)
}

// Scheduler is the BedtimeScheduler. It holds no schedule state of its own:
// each tick recomputes from policy and wall-clock time, so a missed tick is
// corrected by the next one.
type Scheduler struct {
	policies Policies
	compiler Compiler
	tracker  Tracker
	enqueuer Enqueuer
	events   Publisher
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu   sync.Mutex
	seen map[string]model.EffectiveState
}

// Options configures a Scheduler.
type Options struct {
	Policies Policies
	Compiler Compiler
	Tracker  Tracker
	Enqueuer Enqueuer
	Events   Publisher
	Interval time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	return &Scheduler{
		policies: opts.Policies,
		compiler: opts.Compiler,
		tracker:  opts.Tracker,
		enqueuer: opts.Enqueuer,
		events:   opts.Events,
		interval: interval,
		now:      now,
		logger:   opts.Logger.With().Str("component", "scheduler").Logger(),
		seen:     make(map[string]model.EffectiveState),
	}
}

// Run evaluates at once and then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("bedtime scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(s.now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick compiles every policy at now and enqueues the devices whose compiled
// rule set differs from the last one requested, or whose last attempt failed
// and is due for retry. Devices without a policy whose last convergence
// failed, such as a removed device, are retried towards the unrestricted
// rule set. It returns the number of requests issued.
func (s *Scheduler) Tick(now time.Time) int {
	ticksTotal.Inc()
	policies := s.policies.All()

	candidates := make(map[string]bool, len(policies))
	for mac := range policies {
		candidates[mac] = true
	}
	for _, mac := range s.tracker.FailedDevices() {
		candidates[mac] = true
	}
	macs := make([]string, 0, len(candidates))
	for mac := range candidates {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	enqueued := 0
	for _, mac := range macs {
		// The record is read again under the device lock so a mutation
		// committed since All cannot be overtaken by its older state.
		s.policies.Inspect(mac, func(rec model.PolicyRecord, ok bool) {
			if s.evaluate(mac, rec, ok, now) {
				enqueued++
			}
		})
	}

	s.forgetMissing(policies)
	if enqueued > 0 {
		s.logger.Debug().Int("enqueued", enqueued).Int("devices", len(macs)).Msg("scheduler tick")
	}
	return enqueued
}

func (s *Scheduler) evaluate(mac string, rec model.PolicyRecord, hasPolicy bool, now time.Time) bool {
	st, tracked := s.tracker.Status(mac)
	failed := tracked && st.Phase == model.PhaseFailed
	if !hasPolicy && !failed {
		return false
	}

	desired := s.compiler.Compile(rec, now)
	if hasPolicy {
		s.observe(mac, desired.State)
	}
	if !s.tracker.NeedsWork(mac, desired, now) {
		return false
	}
	reason := "schedule"
	if failed {
		reason = "retry"
	}
	s.enqueuer.Enqueue(mac, desired, reason)
	enqueuedTotal.WithLabelValues(reason).Inc()
	return true
}

// observe publishes a transition when a device's effective state differs
// from the one seen on the previous tick.
func (s *Scheduler) observe(mac string, state model.EffectiveState) {
	s.mu.Lock()
	prev, known := s.seen[mac]
	s.seen[mac] = state
	s.mu.Unlock()

	if !known || prev == state {
		return
	}
	transitionsTotal.WithLabelValues(string(state)).Inc()
	s.logger.Info().
		Str("device", mac).
		Str("from", string(prev)).
		Str("to", string(state)).
		Msg("effective state transition")
	if s.events != nil {
		s.events.Publish(events.BedtimeTransition, mac, map[string]model.EffectiveState{
			"from": prev,
			"to":   state,
		})
	}
}

func (s *Scheduler) forgetMissing(policies map[string]model.PolicyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mac := range s.seen {
		if _, ok := policies[mac]; !ok {
			delete(s.seen, mac)
		}
	}
}
