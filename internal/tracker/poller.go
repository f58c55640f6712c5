package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Syncer performs the network side of a poll. Calls are never overlapped by
// the Poller.
type Syncer interface {
	// RefreshActive fetches active jobs and returns how many the backend
	// reported as active.
	RefreshActive(ctx context.Context) (int, error)
	// ReconcileAll fetches every job, terminal ones included, and returns how
	// many are still active.
	ReconcileAll(ctx context.Context) (int, error)
}

type PollerState string

const (
	PollerIdle    PollerState = "idle"
	PollerPolling PollerState = "polling"
)

// Poller drives periodic refreshes while active jobs exist. One goroutine
// and one timer per polling period; the next tick is scheduled only after
// the previous refresh has returned.
type Poller struct {
	source   Syncer
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	kick    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(source Syncer, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		source:   source,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Start moves the poller from Idle to Polling. While polling it queues a
// wake-up instead, so a start that lands during the final reconciliation
// keeps the loop alive for the new work.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.kickLocked()
		return
	}
	p.startLocked()
}

// Trigger requests an immediate refresh. While polling it wakes the loop
// early; requests made while a refresh is in flight coalesce into one
// follow-up refresh. While idle it starts polling.
func (p *Poller) Trigger() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		p.startLocked()
		return
	}
	p.kickLocked()
}

func (p *Poller) kickLocked() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and any in-flight refresh and waits for the loop to
// exit. Stopping an idle poller does nothing.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info().Msg("polling stopped")
}

func (p *Poller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return PollerPolling
	}
	return PollerIdle
}

func (p *Poller) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.kick = make(chan struct{}, 1)
	p.done = make(chan struct{})
	p.logger.Debug().Dur("interval", p.interval).Msg("polling started")
	go p.loop(ctx, p.kick, p.done)
}

func (p *Poller) loop(ctx context.Context, kick chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		active, err := p.source.RefreshActive(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Msg("poll tick failed, retrying on next tick")
		case active == 0:
			if p.drain(ctx, kick, done) {
				return
			}
		}

		if !p.wait(ctx, kick) {
			return
		}
	}
}

// drain runs the single reconciliation pass that follows an empty active
// set, then goes idle unless new work showed up meanwhile or the pass
// failed. It reports whether the loop should exit.
func (p *Poller) drain(ctx context.Context, kick chan struct{}, done chan struct{}) bool {
	active, err := p.source.ReconcileAll(ctx)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		p.logger.Warn().Err(err).Msg("final reconciliation failed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.done != done {
		// Stopped, and possibly restarted, while reconciling.
		return true
	}
	select {
	case <-kick:
		// Keep the request pending so the loop refreshes without waiting.
		kick <- struct{}{}
		return false
	default:
	}
	if err != nil || active > 0 {
		return false
	}
	p.running = false
	p.cancel()
	p.cancel = nil
	p.logger.Debug().Msg("no active imports, polling idle")
	return true
}

func (p *Poller) wait(ctx context.Context, kick chan struct{}) bool {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-kick:
		return true
	}
}
