// Package registry keeps the set of devices seen on the network, keyed by
// hardware address so identity survives address churn.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/model"
)

// ErrNotFound is returned for an unknown hardware address.
var ErrNotFound = errors.New("device not found")

// LeaseSource yields the current lease table.
type LeaseSource interface {
	Read(ctx context.Context) ([]model.Lease, error)
}

// Repository persists device records.
type Repository interface {
	SaveDevice(ctx context.Context, d model.Device) error
}

// Options configures a Registry.
type Options struct {
	Source     LeaseSource
	Repo       Repository
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Registry is the DeviceRegistry. Reads never touch the lease source; they
// serve the result of the last refresh.
type Registry struct {
	source     LeaseSource
	repo       Repository
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.RWMutex
	devices map[string]model.Device
	stale   bool

	// OnChange is called outside the lock for every device that was
	// created or whose address changed during a refresh.
	OnChange func(d model.Device)
}

// New creates a Registry.
func New(opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Registry{
		source:     opts.Source,
		repo:       opts.Repo,
		interval:   interval,
		staleAfter: opts.StaleAfter,
		now:        now,
		logger:     opts.Logger.With().Str("component", "registry").Logger(),
		devices:    make(map[string]model.Device),
	}
}

// Load seeds the registry with persisted devices.
func (r *Registry) Load(devices map[string]model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for mac, d := range devices {
		d.MAC = mac
		r.devices[mac] = d
	}
	devicesKnown.Set(float64(len(r.devices)))
}

// Run refreshes immediately and then on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Msg("device registry started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("lease refresh failed, serving last known devices")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh reads the lease table and merges it into the device set. On a
// read failure the previous set is kept and flagged stale.
func (r *Registry) Refresh(ctx context.Context) error {
	leases, err := r.source.Read(ctx)
	if err != nil {
		r.mu.Lock()
		r.stale = true
		r.mu.Unlock()
		refreshFailures.Inc()
		return fmt.Errorf("read leases: %w", err)
	}

	now := r.now()
	changed, notify := r.merge(leases, now)

	for _, d := range changed {
		if r.repo == nil {
			break
		}
		if err := r.repo.SaveDevice(ctx, d); err != nil {
			r.logger.Error().Err(err).Str("device", d.MAC).Msg("failed to persist device")
		}
	}
	if r.OnChange != nil {
		for _, d := range notify {
			r.OnChange(d)
		}
	}
	return nil
}

// merge applies a lease table snapshot. It returns every device whose record
// changed and the subset that needs reconciliation.
func (r *Registry) merge(leases []model.Lease, now time.Time) (changed, notify []model.Device) {
	// Newest lease wins a contested address.
	sort.SliceStable(leases, func(i, j int) bool {
		return leases[i].Timestamp.Before(leases[j].Timestamp)
	})
	latest := make(map[string]model.Lease, len(leases))
	owner := make(map[string]string, len(leases))
	for _, l := range leases {
		latest[l.MAC] = l
		owner[l.Address] = l.MAC
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for mac, l := range latest {
		addr := l.Address
		if owner[addr] != mac {
			addr = ""
		}

		d, exists := r.devices[mac]
		before := d
		if !exists {
			d = model.Device{MAC: mac, FirstSeen: now}
		}
		d.LastSeen = now
		d.Stale = false
		if addr != "" {
			d.Address = addr
		} else if o := owner[d.Address]; o != "" && o != mac {
			d.Address = ""
		}
		if l.Hostname != "" {
			d.Hostname = l.Hostname
		}
		if !d.NameSet {
			d.DisplayName = defaultName(d)
		}
		r.devices[mac] = d

		switch {
		case !exists:
			r.logger.Info().Str("device", mac).Str("address", d.Address).Str("name", d.DisplayName).Msg("new device")
			changed = append(changed, d)
			notify = append(notify, d)
		case before.Address != d.Address:
			r.logger.Info().Str("device", mac).Str("from", before.Address).Str("to", d.Address).Msg("device address changed")
			changed = append(changed, d)
			notify = append(notify, d)
		case before.Hostname != d.Hostname || before.DisplayName != d.DisplayName || before.Stale:
			changed = append(changed, d)
		}
	}

	for mac, d := range r.devices {
		if _, seen := latest[mac]; seen {
			continue
		}
		updated := d
		if d.Address != "" && owner[d.Address] != "" {
			// Address now belongs to another device.
			updated.Address = ""
		}
		if r.staleAfter > 0 && now.Sub(d.LastSeen) > r.staleAfter {
			updated.Stale = true
		}
		if updated != d {
			r.devices[mac] = updated
			changed = append(changed, updated)
		}
	}

	r.stale = false
	devicesKnown.Set(float64(len(r.devices)))
	return changed, notify
}

// List returns every known device ordered by display name, then hardware
// address.
func (r *Registry) List() []model.Device {
	r.mu.RLock()
	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if a != b {
			return a < b
		}
		return out[i].MAC < out[j].MAC
	})
	return out
}

// Get returns the device with the given hardware address.
func (r *Registry) Get(mac string) (model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[mac]
	return d, ok
}

// LookupByAddress returns the device currently holding addr.
func (r *Registry) LookupByAddress(addr string) (model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.Address == addr {
			return d, true
		}
	}
	return model.Device{}, false
}

// Rename sets a user-assigned display name. An empty name reverts to the
// lease hostname or placeholder.
func (r *Registry) Rename(ctx context.Context, mac, name string) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[mac]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	name = strings.TrimSpace(name)
	d.NameSet = name != ""
	d.DisplayName = name
	if !d.NameSet {
		d.DisplayName = defaultName(d)
	}
	if r.repo != nil {
		if err := r.repo.SaveDevice(ctx, d); err != nil {
			return model.Device{}, fmt.Errorf("save device %s: %w", mac, err)
		}
	}
	r.devices[mac] = d
	return d, nil
}

// Stale reports whether the last lease read failed.
func (r *Registry) Stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale
}

// Count returns the number of devices not marked stale.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.devices {
		if !d.Stale {
			n++
		}
	}
	return n
}

func defaultName(d model.Device) string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return Placeholder(d.MAC)
}

// Placeholder synthesizes a display name from the tail of a hardware
// address, e.g. "Device-ee:01".
func Placeholder(mac string) string {
	suffix := mac
	if len(suffix) > 5 {
		suffix = suffix[len(suffix)-5:]
	}
	return "Device-" + suffix
}
