package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pongarena/server/logging"
)

// Broadcaster receives every finalized tick outcome for fan-out to bound
// connections. The scheduler publishes outcomes strictly in tick order per
// match.
type Broadcaster interface {
	BroadcastOutcome(outcome *TickOutcome)
}

// Scheduler drives every live match at the fixed tick rate. Each match gets
// its own runner goroutine with a coalescing tick channel, so a stalled
// match skips beats instead of blocking the others.
type Scheduler struct {
	registry    *Registry
	broadcaster Broadcaster
	clock       clockwork.Clock
	interval    time.Duration
	publisher   logging.Publisher
	telemetry   *telemetryCounters

	mu      sync.Mutex
	runners map[string]*matchRunner
	wg      sync.WaitGroup
}

func NewScheduler(registry *Registry, broadcaster Broadcaster, clock clockwork.Clock, interval time.Duration, publisher logging.Publisher, telemetry *telemetryCounters) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Scheduler{
		registry:    registry,
		broadcaster: broadcaster,
		clock:       clock,
		interval:    interval,
		publisher:   publisher,
		telemetry:   telemetry,
		runners:     make(map[string]*matchRunner),
	}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case now := <-ticker.Chan():
			s.Dispatch(now)
		}
	}
}

// Dispatch fans one tick out to every active match's runner. Sends are
// non-blocking: a runner still busy with the previous tick coalesces this
// one instead of queueing it, preserving monotonic tick order per match.
func (s *Scheduler) Dispatch(now time.Time) {
	active := s.registry.Active()

	s.mu.Lock()
	seen := make(map[string]struct{}, len(active))
	for _, match := range active {
		seen[match.ID] = struct{}{}
		runner, ok := s.runners[match.ID]
		if !ok {
			runner = newMatchRunner(match, s.broadcaster, s.publisher, s.telemetry)
			s.runners[match.ID] = runner
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				runner.run()
			}()
		}
		runner.offer(now)
	}
	for id, runner := range s.runners {
		if _, stillActive := seen[id]; !stillActive {
			runner.close()
			delete(s.runners, id)
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	for id, runner := range s.runners {
		runner.close()
		delete(s.runners, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// matchRunner serializes all tick work for one match: command application
// and state advancement happen on this goroutine only.
type matchRunner struct {
	match       *Match
	broadcaster Broadcaster
	publisher   logging.Publisher
	telemetry   *telemetryCounters

	ticks     chan time.Time
	closeOnce sync.Once
}

func newMatchRunner(match *Match, broadcaster Broadcaster, publisher logging.Publisher, telemetry *telemetryCounters) *matchRunner {
	return &matchRunner{
		match:       match,
		broadcaster: broadcaster,
		publisher:   publisher,
		telemetry:   telemetry,
		ticks:       make(chan time.Time, 1),
	}
}

func (r *matchRunner) offer(now time.Time) {
	select {
	case r.ticks <- now:
	default:
		// Previous tick still in flight; this beat coalesces into the next.
	}
}

func (r *matchRunner) close() {
	r.closeOnce.Do(func() { close(r.ticks) })
}

func (r *matchRunner) run() {
	for now := range r.ticks {
		started := time.Now()
		outcome, err := r.match.Tick(now)
		if err != nil {
			severity := logging.SeverityError
			if errors.Is(err, ErrTerminalStage) {
				// Tick raced a terminal transition; the runner just winds down.
				severity = logging.SeverityDebug
			}
			r.publisher.Publish(context.Background(), logging.Event{
				Type:     "scheduler.tick_aborted",
				Actor:    logging.MatchRef(r.match.ID),
				Severity: severity,
				Category: logging.CategorySystem,
				Payload:  map[string]any{"error": err.Error()},
			})
			return
		}
		if r.telemetry != nil {
			r.telemetry.RecordTickDuration(time.Since(started))
		}
		// The broadcast for the tick in which a terminal transition occurs
		// still completes before the runner exits.
		if r.broadcaster != nil {
			r.broadcaster.BroadcastOutcome(outcome)
		}
		if outcome.Stage.Terminal() {
			return
		}
	}
}
