// Package policy is the single write path for per-device policy records.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/config"
	"github.com/edvin/revive/internal/model"
)

var (
	// ErrUnknownCategory is returned for a category missing from the catalog.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrInvalidWindow is returned for a bedtime window that cannot be
	// evaluated.
	ErrInvalidWindow = errors.New("invalid bedtime window")
)

// Repository persists policy records.
type Repository interface {
	SavePolicy(ctx context.Context, mac string, rec model.PolicyRecord) error
	DeletePolicy(ctx context.Context, mac string) error
}

// Mutation edits a copy of a record. Returning an error aborts the change.
type Mutation func(rec *model.PolicyRecord, catalog *config.Catalog) error

// Store is the PolicyStore. Mutations for one device are serialized;
// different devices proceed independently.
type Store struct {
	repo    Repository
	catalog *config.Catalog
	now     func() time.Time
	logger  zerolog.Logger

	mu      sync.RWMutex
	records map[string]model.PolicyRecord

	// locks holds one mutex per device.
	locks sync.Map

	// OnChange runs after a mutation is durably recorded, still inside the
	// device's critical section so requests are enqueued in commit order.
	OnChange func(mac string, rec model.PolicyRecord)
}

// New creates an empty Store.
func New(repo Repository, catalog *config.Catalog, logger zerolog.Logger) *Store {
	return &Store{
		repo:    repo,
		catalog: catalog,
		now:     time.Now,
		logger:  logger.With().Str("component", "policy-store").Logger(),
		records: make(map[string]model.PolicyRecord),
	}
}

// Load replaces the in-memory records with persisted ones. Effective bedtime
// activation is never stored, so nothing else needs recomputing here.
func (s *Store) Load(records map[string]model.PolicyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]model.PolicyRecord, len(records))
	for mac, rec := range records {
		s.records[mac] = rec.Clone()
	}
	s.logger.Info().Int("policies", len(s.records)).Msg("policies loaded")
}

func (s *Store) lock(mac string) func() {
	mu, _ := s.locks.LoadOrStore(mac, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// Get returns the record for mac. A device without a record is
// unrestricted.
func (s *Store) Get(mac string) model.PolicyRecord {
	rec, _ := s.Lookup(mac)
	return rec
}

// Lookup is Get that also reports whether a record exists.
func (s *Store) Lookup(mac string) (model.PolicyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[mac]
	return rec.Clone(), ok
}

// Inspect calls fn with the record for mac inside the device's critical
// section. A mutation cannot commit, or enqueue its convergence, while fn
// runs.
func (s *Store) Inspect(mac string, fn func(rec model.PolicyRecord, ok bool)) {
	unlock := s.lock(mac)
	defer unlock()
	fn(s.Lookup(mac))
}

// All returns a copy of every record.
func (s *Store) All() map[string]model.PolicyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.PolicyRecord, len(s.records))
	for mac, rec := range s.records {
		out[mac] = rec.Clone()
	}
	return out
}

// Set applies mutations to the record for mac in order. The result is
// written to the repository before it becomes visible; on a write failure
// the previous record is kept and the error is returned.
func (s *Store) Set(ctx context.Context, mac string, mutations ...Mutation) (model.PolicyRecord, error) {
	unlock := s.lock(mac)
	defer unlock()

	next := s.Get(mac)
	for _, m := range mutations {
		if err := m(&next, s.catalog); err != nil {
			return model.PolicyRecord{}, err
		}
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.repo.SavePolicy(ctx, mac, next); err != nil {
		return model.PolicyRecord{}, fmt.Errorf("save policy %s: %w", mac, err)
	}

	s.mu.Lock()
	s.records[mac] = next.Clone()
	s.mu.Unlock()

	s.logger.Info().
		Str("device", mac).
		Bool("block_social_media", next.BlockSocialMedia).
		Bool("safe_search", next.SafeSearch).
		Bool("bedtime_override", next.BedtimeOverride).
		Bool("bedtime_window", next.Bedtime != nil).
		Strs("categories", next.Categories).
		Msg("policy updated")

	if s.OnChange != nil {
		s.OnChange(mac, next.Clone())
	}
	return next, nil
}

// Delete removes the record for mac. Deleting a missing record is not an
// error.
func (s *Store) Delete(ctx context.Context, mac string) error {
	unlock := s.lock(mac)
	defer unlock()

	if err := s.repo.DeletePolicy(ctx, mac); err != nil {
		return fmt.Errorf("delete policy %s: %w", mac, err)
	}
	s.mu.Lock()
	delete(s.records, mac)
	s.mu.Unlock()
	s.logger.Info().Str("device", mac).Msg("policy deleted")
	return nil
}
