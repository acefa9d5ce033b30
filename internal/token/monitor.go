package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/promptlift/clientcore/pkg/logger"
)

// Monitor runs the advisory expiry tick on a fixed schedule. It exists purely
// to surface warnings ahead of time; the pull-based CheckExpiry carries all
// correctness.
type Monitor struct {
	manager  *Manager
	schedule string
	log      *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewMonitor creates a monitor ticking on the given cron schedule, for
// example "@every 1m".
func NewMonitor(manager *Manager, schedule string, log *logger.Logger) *Monitor {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if log == nil {
		log = logger.NewDefault("token-monitor")
	}
	return &Monitor{manager: manager, schedule: schedule, log: log}
}

// Name identifies the monitor to the lifecycle manager.
func (m *Monitor) Name() string {
	return "token-monitor"
}

// Start begins the advisory schedule. Starting an already running monitor is
// an error.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return fmt.Errorf("token monitor already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(m.schedule, m.manager.AdvisoryTick); err != nil {
		return fmt.Errorf("schedule token monitor: %w", err)
	}
	c.Start()
	m.cron = c
	m.manager.AttachMonitor(m)
	m.log.WithField("schedule", m.schedule).Info("token monitor started")
	return nil
}

// Stop halts the advisory schedule. Safe to call when not running.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	m.log.Info("token monitor stopped")
	return nil
}
