package sync

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
)

type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, s.triggerSync)
	if err != nil {
		return err
	}

	s.entryID = id
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Log.Info("Stopped scheduler")
}

// Next returns the next scheduled run, or the zero time when disabled.
func (s *Scheduler) Next() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) triggerSync() {
	logger.Log.Info("Triggering scheduled sync")

	res, err := s.manager.SyncAll(context.Background())
	if errors.Is(err, ErrSyncInProgress) {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}
	if err != nil {
		logger.Log.Error("Scheduled sync failed", zap.Error(err))
		return
	}
	if rerr := res.Err(); rerr != nil {
		logger.Log.Warn("Scheduled sync finished with remote errors",
			zap.Int("applied", res.Push.Applied),
			zap.Int("remaining", res.Push.Remaining),
			zap.Error(rerr),
		)
		return
	}
	logger.Log.Info("Scheduled sync completed",
		zap.Int("applied", res.Push.Applied),
		zap.Int("discarded", res.Push.Discarded),
		zap.Int("pulls", len(res.Pulls)),
	)
}
