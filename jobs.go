package main

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"pongarena/server/logging"
)

// startJobs launches the background sweeps: matchmaking pairing and retired
// match cleanup. Pairing also runs eagerly on enqueue; the sweep is the
// safety net that catches players left behind by a failed eager pass.
func startJobs(cfg Config, matchmaker *Matchmaker, registry *Registry, publisher logging.Publisher) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.PairSweep),
		gocron.NewTask(func() {
			matchmaker.Pair()
		}),
	); err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.RetireSweep),
		gocron.NewTask(func() {
			if removed := registry.Sweep(); removed > 0 {
				publisher.Publish(context.Background(), logging.Event{
					Type:     "registry.sweep",
					Severity: logging.SeverityDebug,
					Category: "system",
					Payload:  map[string]any{"removed": removed},
					Extra:    map[string]any{"at": time.Now().UTC()},
				})
			}
		}),
	); err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
