// Package reconciler drives the filtering engine towards each device's
// compiled rule set: it diffs, merges and applies engine documents, retries
// transient failures, and schedules per-device work through a coalescing
// queue.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/edvin/revive/internal/adguard"
	"github.com/edvin/revive/internal/model"
)

// Engine is the part of the engine API convergence needs.
type Engine interface {
	ListClients(ctx context.Context) (*adguard.ClientList, error)
	AddClient(ctx context.Context, doc adguard.Document) error
	UpdateClient(ctx context.Context, name string, doc adguard.Document) error
	AccessList(ctx context.Context) (adguard.Document, error)
	SetAccessList(ctx context.Context, doc adguard.Document) error
}

// Target identifies the device being converged.
type Target struct {
	MAC     string
	Address string
	Name    string
	// Claimed reports whether addr is currently leased to another device.
	// Nil means no address is claimed elsewhere.
	Claimed func(addr string) bool
}

func (t Target) claimedElsewhere(addr string) bool {
	return addr != t.Address && t.Claimed != nil && t.Claimed(addr)
}

// Result describes a convergence.
type Result struct {
	Changes  []FieldChange `json:"changes"`
	Created  bool          `json:"created"`
	Attempts int           `json:"attempts"`
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:    5,
	BaseBackoff: 500 * time.Millisecond,
	MaxBackoff:  10 * time.Second,
	CallTimeout: 5 * time.Second,
}

// Converger is the ReconcilerClient.
type Converger struct {
	engine  Engine
	managed map[string]bool
	policy  RetryPolicy
	logger  zerolog.Logger

	// accessMu serializes the read-modify-write of the engine access list,
	// which is one document shared by every device.
	accessMu sync.Mutex
}

// NewConverger creates a Converger. managed is the set of service
// identifiers this daemon owns inside a client's blocked services.
func NewConverger(engine Engine, managed map[string]bool, policy RetryPolicy, logger zerolog.Logger) *Converger {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = DefaultRetryPolicy.BaseBackoff
	}
	if policy.MaxBackoff < policy.BaseBackoff {
		policy.MaxBackoff = policy.BaseBackoff
	}
	return &Converger{
		engine:  engine,
		managed: managed,
		policy:  policy,
		logger:  logger.With().Str("component", "converger").Logger(),
	}
}

// Converge makes the engine hold desired for the target device. Transient
// failures are retried with capped exponential backoff; terminal ones
// return at once. The returned error is classifiable with adguard.KindOf.
func (c *Converger) Converge(ctx context.Context, t Target, desired model.CompiledRuleSet) (Result, error) {
	var (
		res     Result
		lastErr error
	)

	b := retry.NewExponential(c.policy.BaseBackoff)
	b = retry.WithCappedDuration(c.policy.MaxBackoff, b)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(c.policy.Attempts-1), b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res.Attempts++
		attemptCtx := ctx
		if c.policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.policy.CallTimeout)
			defer cancel()
		}

		changes, created, err := c.attempt(attemptCtx, t, desired)
		if err == nil {
			res.Changes = changes
			res.Created = created
			return nil
		}

		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &adguard.Error{Kind: model.FailureConvergenceTimeout, Op: "converge", Err: err}
		}
		lastErr = err
		kind := adguard.KindOf(err)

		ev := c.logger.Warn()
		if kind == model.FailureEngineAuth {
			ev = c.logger.Error()
		}
		ev.Err(err).
			Str("device", t.MAC).
			Str("kind", string(kind)).
			Int("attempt", res.Attempts).
			Int("max_attempts", c.policy.Attempts).
			Msg("convergence attempt failed")

		if kind.Transient() {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		// Cancellation surfaces ctx.Err(); keep the engine error when there
		// is one so the failure stays classifiable.
		if lastErr != nil && errors.Is(err, ctx.Err()) {
			err = lastErr
		}
		return res, err
	}
	return res, nil
}

// attempt performs one read-diff-write pass.
func (c *Converger) attempt(ctx context.Context, t Target, desired model.CompiledRuleSet) ([]FieldChange, bool, error) {
	list, err := c.engine.ListClients(ctx)
	if err != nil {
		return nil, false, err
	}

	var (
		changes  []FieldChange
		created  bool
		previous []string
	)

	idx := matchClient(list.Clients, t)
	if idx < 0 {
		doc, err := newClient(uniqueName(list.Clients, t.Name, t.MAC), t, desired, c.managed)
		if err != nil {
			return nil, false, err
		}
		if err := c.engine.AddClient(ctx, doc); err != nil {
			c.logRejected(err, t, doc)
			return nil, false, fmt.Errorf("add client: %w", err)
		}
		created = true
		changes = diffDocuments(DocClient, adguard.Document{}, doc)
	} else {
		current := list.Clients[idx]
		previous = addressesOf(current.Strings(adguard.FieldIDs))
		next, err := applyClient(current, t, desired, c.managed)
		if err != nil {
			return nil, false, err
		}
		if diff := diffDocuments(DocClient, current, next); len(diff) > 0 {
			if err := c.engine.UpdateClient(ctx, current.String(adguard.FieldName), next); err != nil {
				c.logRejected(err, t, next)
				return nil, false, fmt.Errorf("update client: %w", err)
			}
			changes = append(changes, diff...)
		}
	}

	accessChanges, err := c.convergeAccess(ctx, t, previous, desired.FullBlock)
	if err != nil {
		return nil, false, err
	}
	changes = append(changes, accessChanges...)
	if desired.FullBlock && t.Address == "" {
		c.logger.Warn().Str("device", t.MAC).Msg("full block requested for a device without a known address")
	}

	return changes, created, nil
}

// convergeAccess reads, edits and writes the access list while holding
// accessMu, so concurrent convergences of different devices cannot drop
// each other's entries.
func (c *Converger) convergeAccess(ctx context.Context, t Target, previous []string, fullBlock bool) ([]FieldChange, error) {
	c.accessMu.Lock()
	defer c.accessMu.Unlock()

	access, err := c.engine.AccessList(ctx)
	if err != nil {
		return nil, err
	}
	next, err := applyAccess(access, t, previous, fullBlock)
	if err != nil {
		return nil, err
	}
	diff := diffDocuments(DocAccess, access, next)
	if len(diff) == 0 {
		return nil, nil
	}
	if err := c.engine.SetAccessList(ctx, next); err != nil {
		c.logRejected(err, t, next)
		return nil, fmt.Errorf("set access list: %w", err)
	}
	return diff, nil
}

func (c *Converger) logRejected(err error, t Target, doc adguard.Document) {
	if adguard.KindOf(err) != model.FailureEngineRejected {
		return
	}
	var body string
	var ae *adguard.Error
	if errors.As(err, &ae) {
		body = ae.Body
	}
	c.logger.Error().
		Err(err).
		Str("device", t.MAC).
		Interface("payload", doc).
		Str("response", body).
		Msg("engine rejected document")
}
