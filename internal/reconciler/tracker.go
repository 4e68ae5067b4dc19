package reconciler

import (
	"sort"
	"sync"
	"time"

	"github.com/edvin/revive/internal/model"
)

type trackEntry struct {
	requested string
	desired   model.EffectiveState
	applied   string
	appliedAs model.EffectiveState
	appliedAt *time.Time
	phase     string
	kind      model.FailureKind
	lastErr   string
	attempts  int
	failedAt  time.Time
	updatedAt time.Time
}

// Tracker remembers, per device, the last requested and last applied rule
// set. It is the only memory the scheduler needs to decide whether a device
// must be converged again.
type Tracker struct {
	retryAfter time.Duration

	mu      sync.Mutex
	entries map[string]*trackEntry
}

// NewTracker creates a Tracker. Terminal failures become eligible for retry
// after retryAfter; zero means only a new desired state retries them.
func NewTracker(retryAfter time.Duration) *Tracker {
	return &Tracker{retryAfter: retryAfter, entries: make(map[string]*trackEntry)}
}

func (t *Tracker) entry(mac string) *trackEntry {
	e, ok := t.entries[mac]
	if !ok {
		e = &trackEntry{}
		t.entries[mac] = e
	}
	return e
}

// NeedsWork reports whether desired should be enqueued for mac at now.
func (t *Tracker) NeedsWork(mac string, desired model.CompiledRuleSet, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[mac]
	if !ok || e.requested != desired.Fingerprint() {
		return true
	}
	if e.phase != model.PhaseFailed {
		return false
	}
	if e.kind.Transient() {
		return true
	}
	return t.retryAfter > 0 && now.Sub(e.failedAt) >= t.retryAfter
}

// Requested records that desired was enqueued for mac.
func (t *Tracker) Requested(mac string, desired model.CompiledRuleSet, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(mac)
	e.requested = desired.Fingerprint()
	e.desired = desired.State
	e.phase = model.PhasePending
	e.updatedAt = now
}

// Applied records a successful convergence. A result for a rule set that
// has since been superseded does not clear the pending phase.
func (t *Tracker) Applied(mac string, desired model.CompiledRuleSet, attempts int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(mac)
	fp := desired.Fingerprint()
	e.applied = fp
	e.appliedAs = desired.State
	at := now
	e.appliedAt = &at
	e.attempts = attempts
	e.updatedAt = now
	if e.requested == fp || e.requested == "" {
		e.requested = fp
		e.desired = desired.State
		e.phase = model.PhaseApplied
		e.kind = model.FailureNone
		e.lastErr = ""
	}
}

// Failed records a convergence whose retry budget ran out or that hit a
// terminal error.
func (t *Tracker) Failed(mac string, desired model.CompiledRuleSet, kind model.FailureKind, err error, attempts int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(mac)
	fp := desired.Fingerprint()
	if e.requested != fp && e.requested != "" {
		return
	}
	e.requested = fp
	e.desired = desired.State
	e.phase = model.PhaseFailed
	e.kind = kind
	if err != nil {
		e.lastErr = err.Error()
	}
	e.attempts = attempts
	e.failedAt = now
	e.updatedAt = now
}

// FailedDevices returns the devices whose last convergence failed, sorted.
func (t *Tracker) FailedDevices() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for mac, e := range t.entries {
		if e.phase == model.PhaseFailed {
			out = append(out, mac)
		}
	}
	sort.Strings(out)
	return out
}

// Status returns the reported convergence status for mac.
func (t *Tracker) Status(mac string) (model.ApplyStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[mac]
	if !ok {
		return model.ApplyStatus{}, false
	}
	return model.ApplyStatus{
		Phase:        e.phase,
		Applied:      e.phase == model.PhaseApplied,
		Desired:      e.desired,
		AppliedState: e.appliedAs,
		FailureKind:  e.kind,
		LastError:    e.lastErr,
		Attempts:     e.attempts,
		UpdatedAt:    e.updatedAt,
		AppliedAt:    e.appliedAt,
	}, true
}

// Failures counts devices currently in the failed phase, by kind.
func (t *Tracker) Failures() map[model.FailureKind]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.FailureKind]int)
	for _, e := range t.entries {
		if e.phase == model.PhaseFailed {
			out[e.kind]++
		}
	}
	return out
}
