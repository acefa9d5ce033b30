package counter

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/promptlift/clientcore/pkg/logger"
)

// Reaper periodically drops stale pending updates. Cleanup is housekeeping:
// the engine stays correct if a tick never fires, entries just linger longer.
type Reaper struct {
	engine   *Engine
	schedule string
	log      *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReaper creates a reaper ticking on the given cron schedule, for example
// "@every 30s".
func NewReaper(engine *Engine, schedule string, log *logger.Logger) *Reaper {
	if schedule == "" {
		schedule = "@every 30s"
	}
	if log == nil {
		log = logger.NewDefault("pending-reaper")
	}
	return &Reaper{engine: engine, schedule: schedule, log: log}
}

// Name identifies the reaper to the lifecycle manager.
func (r *Reaper) Name() string {
	return "pending-reaper"
}

// Start begins the cleanup schedule.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("pending reaper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.engine.Reap() }); err != nil {
		return fmt.Errorf("schedule pending reaper: %w", err)
	}
	c.Start()
	r.cron = c
	r.log.WithField("schedule", r.schedule).Info("pending reaper started")
	return nil
}

// Stop halts the cleanup schedule. Safe to call when not running.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("pending reaper stopped")
	return nil
}
