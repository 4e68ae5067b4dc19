// Package store persists policy records and device records across restarts.
package store

import (
	"context"
	"errors"

	"github.com/edvin/revive/internal/model"
)

// ErrCorrupt means persisted state exists but cannot be decoded. It is fatal
// at startup: continuing would silently drop existing policy.
var ErrCorrupt = errors.New("policy store corrupt")

// SchemaVersion is written into every file snapshot.
const SchemaVersion = 1

// Snapshot is the complete persisted state.
type Snapshot struct {
	Version  int                           `json:"version"`
	Policies map[string]model.PolicyRecord `json:"policies"`
	Devices  map[string]model.Device       `json:"devices"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Version:  SchemaVersion,
		Policies: make(map[string]model.PolicyRecord),
		Devices:  make(map[string]model.Device),
	}
}

// Repository is implemented by every storage backend. Records are keyed by
// normalised hardware address.
type Repository interface {
	Load(ctx context.Context) (*Snapshot, error)
	SavePolicy(ctx context.Context, mac string, rec model.PolicyRecord) error
	DeletePolicy(ctx context.Context, mac string) error
	SaveDevice(ctx context.Context, d model.Device) error
}
