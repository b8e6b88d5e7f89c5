// Package housekeeping runs scheduled maintenance over the repository
// root: clearing stale transaction lock sentinels left by crashed
// processes and reporting object-store growth.
package housekeeping

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"lunchbadger/configstore/pkg/config"
	"lunchbadger/configstore/pkg/lock"
	"lunchbadger/configstore/pkg/store"
)

// Sweeper is the cron-driven maintenance loop.
type Sweeper struct {
	manager      *store.Manager
	staleLockAge time.Duration
	schedule     string
	cron         *cron.Cron
	logger       *slog.Logger
}

// NewSweeper creates a sweeper from configuration. An empty schedule
// disables it; Start becomes a no-op.
func NewSweeper(manager *store.Manager, cfg config.HousekeepingConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		manager:      manager,
		staleLockAge: cfg.StaleLockAge,
		schedule:     cfg.Schedule,
		logger:       logger,
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	if s.schedule == "" {
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("housekeeping scheduled", "schedule", s.schedule)
	return nil
}

// Stop cancels the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one maintenance pass over every repository.
func (s *Sweeper) Sweep() {
	repos, err := s.manager.List()
	if err != nil {
		s.logger.Error("housekeeping list failed", "error", err)
		return
	}
	for _, repo := range repos {
		s.sweepLock(repo)
		s.reportLooseObjects(repo)
	}
}

// sweepLock removes a txn.lock sentinel that is old enough and not
// currently held. The removal happens while holding the lock, so a
// transaction that raced the sweep keeps its serialization.
func (s *Sweeper) sweepLock(repo *store.Repository) {
	path := repo.LockPath()
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) < s.staleLockAge {
		return
	}

	err = lock.WithLock(path, func() error {
		return os.Remove(path)
	})
	switch {
	case err == nil:
		s.logger.Info("removed stale lock sentinel", "repo", repo.Name(), "age", time.Since(info.ModTime()).Round(time.Second))
	case errors.Is(err, lock.ErrLocked):
		// Live transaction; not stale after all.
	default:
		s.logger.Warn("failed to sweep lock sentinel", "repo", repo.Name(), "error", err)
	}
}

// reportLooseObjects logs the loose object count per repository so
// operators can see when a repack is due.
func (s *Sweeper) reportLooseObjects(repo *store.Repository) {
	objectsDir := filepath.Join(repo.GitDir(), "objects")
	count := 0
	entries, err := os.ReadDir(objectsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) != 2 {
			continue
		}
		fanout, err := os.ReadDir(filepath.Join(objectsDir, e.Name()))
		if err != nil {
			continue
		}
		count += len(fanout)
	}
	if count > 0 {
		s.logger.Debug("loose objects", "repo", repo.Name(), "count", count)
	}
}
