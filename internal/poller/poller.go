package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meshtools/meshwatch/internal/model"
	"github.com/meshtools/meshwatch/internal/topology"
)

// Runner executes one collection run.
type Runner interface {
	PollOnce(ctx context.Context) (*model.PollRun, error)
}

// Poller serializes collection runs on a fixed nominal period. Each run's
// start is aligned to the period, so a 2 minute run on a 5 minute period
// leaves a 3 minute wait rather than drifting.
type Poller struct {
	service   Runner
	period    time.Duration
	refreshCh chan struct{}
	onRun     func(*model.PollRun)
	logger    *slog.Logger

	topologyFailures int
}

func New(svc Runner, period time.Duration, logger *slog.Logger) *Poller {
	if period <= 0 {
		period = 5 * time.Minute
	}
	return &Poller{
		service:   svc,
		period:    period,
		refreshCh: make(chan struct{}, 1),
		logger:    logger,
	}
}

// OnRun registers a callback invoked after every successful run. Must be set
// before Run starts.
func (p *Poller) OnRun(fn func(*model.PollRun)) {
	p.onRun = fn
}

// TriggerRefresh requests an immediate run. Coalesces when one is already
// pending.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		started := time.Now()
		p.poll(ctx)

		elapsed := time.Since(started)
		wait := p.period - elapsed%p.period

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	run, err := p.service.PollOnce(ctx)
	// an outage run is still a run; subscribers get to see it
	if run != nil && p.onRun != nil {
		p.onRun(run)
	}
	if err == nil {
		p.topologyFailures = 0
		return
	}
	if errors.Is(err, topology.ErrUnavailable) {
		p.topologyFailures++
		p.logger.Warn("poll aborted; topology unavailable",
			"consecutive_failures", p.topologyFailures)
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.logger.Error("poll failed", "err", err)
}
