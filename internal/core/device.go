package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/edvin/revive/internal/events"
	"github.com/edvin/revive/internal/model"
	"github.com/edvin/revive/internal/policy"
	"github.com/edvin/revive/internal/registry"
)

// ErrNotFound is returned for a device that is neither on the network nor
// has a stored policy.
var ErrNotFound = errors.New("device not found")

// Reasons attached to convergence requests.
const (
	ReasonPolicy  = "policy"
	ReasonAddress = "address"
	ReasonManual  = "manual"
	ReasonRemoval = "removal"
)

// DeviceStatus reports whether the effective policy has reached the
// filtering engine.
type DeviceStatus struct {
	model.ApplyStatus
	Pending    bool   `json:"pending"`
	NotApplied string `json:"not_applied,omitempty"`
}

// DeviceView is one row of the device list.
type DeviceView struct {
	Device    model.Device          `json:"device"`
	Policy    model.PolicyRecord    `json:"policy"`
	HasPolicy bool                  `json:"has_policy"`
	Effective model.CompiledRuleSet `json:"effective"`
	Status    DeviceStatus          `json:"status"`
}

type DeviceService struct {
	registry   Registry
	policies   Policies
	compiler   Compiler
	reconciler Reconciler
	events     Publisher
	now        func() time.Time
}

func NewDeviceService(reg Registry, policies Policies, compiler Compiler, rec Reconciler, pub Publisher) *DeviceService {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &DeviceService{
		registry:   reg,
		policies:   policies,
		compiler:   compiler,
		reconciler: rec,
		events:     pub,
		now:        time.Now,
	}
}

// List returns every device on the network plus any device that only has a
// stored policy, ordered like the registry with policy-only devices last.
func (s *DeviceService) List(_ context.Context) []DeviceView {
	now := s.now()
	devices := s.registry.List()
	seen := make(map[string]bool, len(devices))

	out := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		seen[d.MAC] = true
		out = append(out, s.view(d, now))
	}

	var orphans []string
	for mac := range s.policies.All() {
		if !seen[mac] {
			orphans = append(orphans, mac)
		}
	}
	sort.Strings(orphans)
	for _, mac := range orphans {
		out = append(out, s.view(absentDevice(mac), now))
	}
	return out
}

// Get returns a single device.
func (s *DeviceService) Get(_ context.Context, mac string) (DeviceView, error) {
	d, err := s.resolve(mac)
	if err != nil {
		return DeviceView{}, err
	}
	return s.view(d, s.now()), nil
}

// ByAddress finds the device currently leased addr.
func (s *DeviceService) ByAddress(_ context.Context, addr string) (model.Device, error) {
	if ip := net.ParseIP(addr); ip != nil {
		addr = ip.String()
	}
	d, ok := s.registry.LookupByAddress(addr)
	if !ok {
		return model.Device{}, fmt.Errorf("%w: no device at %s", ErrNotFound, addr)
	}
	return d, nil
}

// Update applies policy mutations. It returns once the change is durably
// recorded; convergence continues in the background.
func (s *DeviceService) Update(ctx context.Context, mac string, mutations ...policy.Mutation) (DeviceView, error) {
	d, err := s.resolve(mac)
	if err != nil {
		return DeviceView{}, err
	}
	if _, err := s.policies.Set(ctx, mac, mutations...); err != nil {
		return DeviceView{}, err
	}
	return s.view(d, s.now()), nil
}

// Rename sets the display name of a device on the network.
func (s *DeviceService) Rename(ctx context.Context, mac, name string) (DeviceView, error) {
	d, err := s.registry.Rename(ctx, mac, name)
	if errors.Is(err, registry.ErrNotFound) {
		return DeviceView{}, fmt.Errorf("%w: %s", ErrNotFound, mac)
	}
	if err != nil {
		return DeviceView{}, err
	}
	s.events.Publish(events.DeviceUpdated, mac, d)
	return s.view(d, s.now()), nil
}

// Reconcile re-queues the device's current effective policy.
func (s *DeviceService) Reconcile(_ context.Context, mac string) (DeviceView, error) {
	d, err := s.resolve(mac)
	if err != nil {
		return DeviceView{}, err
	}
	rec, _ := s.policies.Lookup(mac)
	s.reconciler.Enqueue(mac, s.compiler.Compile(rec, s.now()), ReasonManual)
	return s.view(d, s.now()), nil
}

// Remove deletes the device's policy and lifts every restriction from it in
// the engine. The device record itself is kept.
func (s *DeviceService) Remove(ctx context.Context, mac string) error {
	if _, err := s.resolve(mac); err != nil {
		return err
	}
	if err := s.policies.Delete(ctx, mac); err != nil {
		return err
	}
	s.reconciler.Enqueue(mac, s.compiler.Compile(model.PolicyRecord{}, s.now()), ReasonRemoval)
	s.events.Publish(events.PolicyChanged, mac, map[string]bool{"removed": true})
	return nil
}

// PolicyChanged compiles and enqueues a freshly committed policy. It is
// installed as the policy store's change hook.
func (s *DeviceService) PolicyChanged(mac string, rec model.PolicyRecord) {
	desired := s.compiler.Compile(rec, s.now())
	s.reconciler.Enqueue(mac, desired, ReasonPolicy)
	s.events.Publish(events.PolicyChanged, mac, map[string]any{
		"policy":    rec,
		"effective": desired,
	})
}

// DeviceChanged re-converges a device whose address changed, so engine
// client ids and the access list follow it. It is installed as the
// registry's change hook.
func (s *DeviceService) DeviceChanged(d model.Device) {
	s.events.Publish(events.DeviceUpdated, d.MAC, d)
	rec, ok := s.policies.Lookup(d.MAC)
	if !ok {
		return
	}
	s.reconciler.Enqueue(d.MAC, s.compiler.Compile(rec, s.now()), ReasonAddress)
}

// Categories lists the blockable categories and their services.
func (s *DeviceService) Categories() map[string][]string {
	cat := s.compiler.Catalog()
	out := make(map[string][]string, len(cat.Categories))
	for _, name := range cat.Names() {
		out[name] = append([]string(nil), cat.Services(name)...)
	}
	return out
}

// CatalogVersion returns the active category catalog version.
func (s *DeviceService) CatalogVersion() string {
	return s.compiler.Catalog().Version
}

func (s *DeviceService) resolve(mac string) (model.Device, error) {
	if d, ok := s.registry.Get(mac); ok {
		return d, nil
	}
	if _, ok := s.policies.Lookup(mac); ok {
		return absentDevice(mac), nil
	}
	return model.Device{}, fmt.Errorf("%w: %s", ErrNotFound, mac)
}

func (s *DeviceService) view(d model.Device, now time.Time) DeviceView {
	rec, has := s.policies.Lookup(d.MAC)
	v := DeviceView{
		Device:    d,
		Policy:    rec,
		HasPolicy: has,
		Effective: s.compiler.Compile(rec, now),
	}
	st, ok := s.reconciler.Status(d.MAC)
	switch {
	case !ok && !has:
		// Never restricted, nothing to apply.
		v.Status.Phase = model.PhaseApplied
		v.Status.Applied = true
	case !ok:
		v.Status.Phase = model.PhasePending
		v.Status.Pending = true
		v.Status.NotApplied = "waiting for first convergence"
	default:
		v.Status.ApplyStatus = st
		v.Status.Pending = st.Phase == model.PhasePending
		v.Status.NotApplied = notApplied(st)
	}
	return v
}

func notApplied(st model.ApplyStatus) string {
	switch st.Phase {
	case model.PhaseFailed:
		msg := "not yet applied: " + strings.ReplaceAll(string(st.FailureKind), "_", " ")
		if !st.FailureKind.Transient() {
			msg += " (needs attention)"
		}
		return msg
	case model.PhasePending:
		return "applying"
	}
	return ""
}

func absentDevice(mac string) model.Device {
	return model.Device{MAC: mac, DisplayName: registry.Placeholder(mac), Stale: true}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}
