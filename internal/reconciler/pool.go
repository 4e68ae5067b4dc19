package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/adguard"
	"github.com/edvin/revive/internal/events"
	"github.com/edvin/revive/internal/model"
)

// ConvergeFunc converges one device. *Converger implements it.
type ConvergeFunc interface {
	Converge(ctx context.Context, t Target, desired model.CompiledRuleSet) (Result, error)
}

// TargetResolver maps a hardware address to the device's current identity.
type TargetResolver func(mac string) Target

// Publisher receives convergence outcomes.
type Publisher interface {
	Publish(typ, device string, data any)
}

// Pool runs queued convergence requests on a bounded set of workers.
type Pool struct {
	queue     *Queue
	tracker   *Tracker
	converger ConvergeFunc
	resolve   TargetResolver
	events    Publisher
	workers   int
	now       func() time.Time
	logger    zerolog.Logger
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Queue     *Queue
	Tracker   *Tracker
	Converger ConvergeFunc
	Resolve   TargetResolver
	Events    Publisher
	Workers   int
	Logger    zerolog.Logger
}

// NewPool creates a Pool.
func NewPool(opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	resolve := opts.Resolve
	if resolve == nil {
		resolve = func(mac string) Target { return Target{MAC: mac} }
	}
	pub := opts.Events
	if pub == nil {
		pub = discard{}
	}
	return &Pool{
		queue:     opts.Queue,
		tracker:   opts.Tracker,
		converger: opts.Converger,
		resolve:   resolve,
		events:    pub,
		workers:   workers,
		now:       time.Now,
		logger:    opts.Logger.With().Str("component", "reconcile-pool").Logger(),
	}
}

// Enqueue records desired as the latest state wanted for mac and queues it.
// It never blocks.
func (p *Pool) Enqueue(mac string, desired model.CompiledRuleSet, reason string) {
	now := p.now()
	p.tracker.Requested(mac, desired, now)
	req := Request{
		ID:         uuid.NewString(),
		MAC:        mac,
		Desired:    desired,
		Reason:     reason,
		EnqueuedAt: now,
	}
	coalesced := p.queue.Enqueue(req)
	p.logger.Debug().
		Str("job", req.ID).
		Str("device", mac).
		Str("state", string(desired.State)).
		Str("reason", reason).
		Bool("coalesced", coalesced).
		Msg("convergence requested")
}

// Tracker returns the pool's tracker.
func (p *Pool) Tracker() *Tracker {
	return p.tracker
}

// Run starts the workers and blocks until ctx is done and every worker has
// finished its current request.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("workers", p.workers).Msg("reconcile workers started")
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()
	return nil
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		req, err := p.queue.Next(ctx)
		if err != nil {
			return
		}
		p.process(ctx, id, req)
		p.queue.Done(req.MAC)
	}
}

func (p *Pool) process(ctx context.Context, worker int, req Request) {
	target := p.resolve(req.MAC)
	start := time.Now()
	res, err := p.converger.Converge(ctx, target, req.Desired)
	reconcileDuration.Observe(time.Since(start).Seconds())

	log := p.logger.With().
		Str("job", req.ID).
		Str("device", req.MAC).
		Str("address", target.Address).
		Int("worker", worker).
		Int("attempts", res.Attempts).
		Logger()

	if err != nil && ctx.Err() != nil {
		log.Info().Msg("convergence interrupted by shutdown")
		return
	}
	if err != nil {
		kind := adguard.KindOf(err)
		p.tracker.Failed(req.MAC, req.Desired, kind, err, res.Attempts, p.now())
		reconcileTotal.WithLabelValues("failure", string(kind)).Inc()
		log.Error().Err(err).Str("kind", string(kind)).Bool("transient", kind.Transient()).Msg("convergence failed")
		p.events.Publish(events.ReconcileFailed, req.MAC, map[string]any{
			"state": req.Desired.State,
			"kind":  kind,
			"error": err.Error(),
		})
		return
	}

	p.tracker.Applied(req.MAC, req.Desired, res.Attempts, p.now())
	reconcileTotal.WithLabelValues("success", "").Inc()
	for _, c := range res.Changes {
		fieldChanges.WithLabelValues(c.Document, c.Field).Inc()
	}
	if len(res.Changes) == 0 {
		log.Debug().Msg("engine already converged")
		return
	}
	log.Info().
		Str("state", string(req.Desired.State)).
		Bool("created", res.Created).
		Int("changes", len(res.Changes)).
		Msg("device converged")
	p.events.Publish(events.ReconcileApplied, req.MAC, map[string]any{
		"state":   req.Desired.State,
		"created": res.Created,
		"changes": res.Changes,
	})
}

type discard struct{}

func (discard) Publish(string, string, any) {}

// Status reports convergence progress for mac.
func (p *Pool) Status(mac string) (model.ApplyStatus, bool) {
	return p.tracker.Status(mac)
}
