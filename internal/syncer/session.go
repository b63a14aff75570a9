package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Session runs Reconcile on a cron schedule between Start and Stop.
type Session struct {
	logger   *slog.Logger
	syncer   *Syncer
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewSession creates a stopped session.
func NewSession(logger *slog.Logger, s *Syncer, schedule string) *Session {
	return &Session{logger: logger, syncer: s, schedule: schedule}
}

// Start registers the schedule and begins running passes in the background.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sync session already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(s.schedule, func() { s.runOnce(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}

	s.cron, s.cancel = c, cancel
	s.running = true
	c.Start()
	s.logger.Info("Sync session started.", "schedule", s.schedule)
	return nil
}

// Stop cancels a running pass and waits for it to return.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.logger.Info("Sync session stopped.")
}

// Running reports whether the session has been started and not stopped.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) runOnce(ctx context.Context) {
	if _, err := s.syncer.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Sync cycle failed", "error", err)
	}
}
