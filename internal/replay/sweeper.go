package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"webhook-verifier/internal/common/logging"
)

// DefaultSweepInterval is how often expired nonces are purged.
const DefaultSweepInterval = 60 * time.Second

// Sweeper periodically calls Cleanup on a store.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper. A non-positive interval selects DefaultSweepInterval.
func NewSweeper(cleaner Cleaner, interval time.Duration, logger logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "nonce_sweeper"}),
	}
}

// Start schedules the sweep. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.sweep); err != nil {
		return fmt.Errorf("failed to schedule nonce sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Debug("Nonce sweeper started", logging.Duration("interval", s.interval))
	return nil
}

// Stop cancels the schedule and waits for a sweep in progress to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	running := s.running
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if !running {
		return
	}
	<-c.Stop().Done()
	s.logger.Debug("Nonce sweeper stopped")
}

// Running reports whether the sweep is scheduled.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	removed, err := s.cleaner.Cleanup(ctx)
	if err != nil {
		s.logger.Error("Nonce sweep failed", err)
		return
	}
	if removed > 0 {
		s.logger.Debug("Expired nonces removed", logging.Int("count", removed))
	}
}
