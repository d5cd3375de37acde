package sync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
)

// PullFunc pulls one table.
type PullFunc func(ctx context.Context, table string) error

// Refresher batches change events and pulls each changed table at most once
// per flush interval.
type Refresher struct {
	events   <-chan ChangeEvent
	pull     PullFunc
	interval time.Duration
	dirty    map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewRefresher(interval time.Duration, events <-chan ChangeEvent, pull PullFunc) *Refresher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		events:   events,
		pull:     pull,
		interval: interval,
		dirty:    make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Refresher) Start() {
	logger.Log.Info("Starting refresher", zap.Duration("interval", r.interval))
	r.wg.Add(1)
	go r.run()
}

func (r *Refresher) Stop() {
	r.cancel()
	r.wg.Wait()
	logger.Log.Info("Stopped refresher")
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				r.flush()
				return
			}
			r.dirty[e.Table] = true

		case <-ticker.C:
			r.flush()

		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Refresher) flush() {
	if len(r.dirty) == 0 {
		return
	}

	tables := make([]string, 0, len(r.dirty))
	for t := range r.dirty {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	logger.Log.Debug("Refreshing tables", zap.Strings("tables", tables))

	for _, table := range tables {
		err := r.pull(r.ctx, table)
		if errors.Is(err, ErrSyncInProgress) {
			// Another session holds the context; try again next tick.
			continue
		}
		if err != nil {
			logger.Log.Error("Failed to refresh table", zap.String("table", table), zap.Error(err))
		}
		delete(r.dirty, table)
	}
}
