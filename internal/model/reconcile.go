package model

import "time"

// FailureKind classifies why a device's desired state has not been applied.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureLeaseUnavailable   FailureKind = "lease_source_unavailable"
	FailureStoreCorrupt       FailureKind = "policy_store_corrupt"
	FailureEngineUnreachable  FailureKind = "external_engine_unreachable"
	FailureEngineAuth         FailureKind = "external_engine_auth_failure"
	FailureEngineRejected     FailureKind = "external_engine_rejected"
	FailureConvergenceTimeout FailureKind = "convergence_timeout"
)

// Transient reports whether a failure of this kind is worth retrying
// without operator action.
func (k FailureKind) Transient() bool {
	switch k {
	case FailureEngineUnreachable, FailureConvergenceTimeout:
		return true
	}
	return false
}

// Convergence phases.
const (
	PhasePending = "pending"
	PhaseApplied = "applied"
	PhaseFailed  = "failed"
)

// ApplyStatus reports how far a device's desired state has made it into
// the filtering engine.
type ApplyStatus struct {
	Phase        string         `json:"phase"`
	Applied      bool           `json:"applied"`
	Desired      EffectiveState `json:"desired_state,omitempty"`
	AppliedState EffectiveState `json:"applied_state,omitempty"`
	FailureKind  FailureKind    `json:"failure_kind,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Attempts     int            `json:"attempts"`
	UpdatedAt    time.Time      `json:"updated_at"`
	AppliedAt    *time.Time     `json:"applied_at,omitempty"`
}

// Stats is the aggregate query counters shown on the dashboard.
type Stats struct {
	QueriesToday     int64     `json:"queries_today"`
	BlockedToday     int64     `json:"blocked_today"`
	AvgProcessingMS  float64   `json:"avg_processing_ms"`
	ConnectedDevices int       `json:"connected_devices"`
	FetchedAt        time.Time `json:"fetched_at"`
	Stale            bool      `json:"stale"`
}
