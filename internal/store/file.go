package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edvin/revive/internal/model"
)

// FileRepository keeps the whole state in one JSON document that is
// rewritten atomically on every change.
type FileRepository struct {
	path string

	mu   sync.Mutex
	snap *Snapshot
}

// NewFileRepository returns a repository backed by path. The file is
// created on first write.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Load reads the state file. A missing file is an empty state; an
// undecodable one is ErrCorrupt. Unknown fields are ignored.
func (r *FileRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := newSnapshot()
	data, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		r.snap = snap
		return copySnapshot(snap), nil
	case err != nil:
		return nil, fmt.Errorf("read state file %s: %w", r.path, err)
	}

	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, r.path, err)
	}
	if snap.Policies == nil {
		snap.Policies = make(map[string]model.PolicyRecord)
	}
	if snap.Devices == nil {
		snap.Devices = make(map[string]model.Device)
	}
	r.snap = snap
	return copySnapshot(snap), nil
}

func (r *FileRepository) SavePolicy(_ context.Context, mac string, rec model.PolicyRecord) error {
	return r.mutate(func(s *Snapshot) { s.Policies[mac] = rec.Clone() })
}

func (r *FileRepository) DeletePolicy(_ context.Context, mac string) error {
	return r.mutate(func(s *Snapshot) { delete(s.Policies, mac) })
}

func (r *FileRepository) SaveDevice(_ context.Context, d model.Device) error {
	return r.mutate(func(s *Snapshot) { s.Devices[d.MAC] = d })
}

// mutate applies fn to a copy of the state and only adopts the copy once it
// has been written to disk.
func (r *FileRepository) mutate(fn func(*Snapshot)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap == nil {
		r.snap = newSnapshot()
	}
	next := copySnapshot(r.snap)
	fn(next)
	next.Version = SchemaVersion

	if err := r.write(next); err != nil {
		return err
	}
	r.snap = next
	return nil
}

func (r *FileRepository) write(s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func copySnapshot(s *Snapshot) *Snapshot {
	out := &Snapshot{
		Version:  s.Version,
		Policies: make(map[string]model.PolicyRecord, len(s.Policies)),
		Devices:  make(map[string]model.Device, len(s.Devices)),
	}
	for k, v := range s.Policies {
		out.Policies[k] = v.Clone()
	}
	for k, v := range s.Devices {
		out.Devices[k] = v
	}
	return out
}
