package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/store"
)

// ChangeEvent says a remote table changed. Rows are not carried: the
// refresher re-pulls the table through the normal merge path.
type ChangeEvent struct {
	Table string
	Type  store.Operation
	At    time.Time
}

// BinlogListener tails the binlog of a MySQL remote and reports changes to
// the synced tables. It starts at the current master position; anything
// older is covered by the regular pull.
type BinlogListener struct {
	cfg       config.DatabaseConnection
	canal     *canal.Canal
	eventChan chan ChangeEvent
	ctx       context.Context
	cancel    context.CancelFunc
	tables    map[string]bool
}

func NewBinlogListener(cfg config.DatabaseConnection, tables []config.TableConfig) (*BinlogListener, error) {
	tableMap := make(map[string]bool)
	var tableRegex []string
	for _, t := range tables {
		tableMap[t.Name] = true
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$", cfg.Database, t.Name))
	}

	user, password := cfg.ReplicationUser, cfg.ReplicationPassword
	if user == "" {
		user, password = cfg.User, cfg.Password
	}
	serverID := cfg.ServerID
	if serverID == 0 {
		serverID = 100
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:     user,
		Password: password,
		Flavor:   "mysql",
		ServerID: serverID,
		Dump: canal.DumpConfig{
			ExecutionPath: "",
		},
		IncludeTableRegex: tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &BinlogListener{
		cfg:       cfg,
		canal:     c,
		eventChan: make(chan ChangeEvent, 1024),
		ctx:       ctx,
		cancel:    cancel,
		tables:    tableMap,
	}

	c.SetEventHandler(&eventHandler{listener: l})

	return l, nil
}

func (l *BinlogListener) Start() error {
	pos, err := l.canal.GetMasterPos()
	if err != nil {
		return fmt.Errorf("failed to read master position: %w", err)
	}

	logger.Log.Info("Starting binlog listener",
		zap.String("host", l.cfg.Host),
		zap.String("file", pos.Name),
		zap.Uint32("pos", pos.Pos),
	)

	go func() {
		if err := l.canal.RunFrom(pos); err != nil && l.ctx.Err() == nil {
			logger.Log.Error("Canal run error", zap.Error(err))
		}
	}()

	return nil
}

// Stop closes the binlog connection. Events is left open; consumers stop on
// their own context.
func (l *BinlogListener) Stop() {
	l.cancel()
	l.canal.Close()
	logger.Log.Info("Stopped binlog listener")
}

func (l *BinlogListener) Events() <-chan ChangeEvent {
	return l.eventChan
}

type eventHandler struct {
	canal.DummyEventHandler
	listener *BinlogListener
}

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	if _, ok := h.listener.tables[e.Table.Name]; !ok {
		return nil
	}

	var op store.Operation
	switch e.Action {
	case canal.InsertAction:
		op = store.Insert
	case canal.UpdateAction:
		op = store.Update
	case canal.DeleteAction:
		op = store.Delete
	default:
		return nil
	}

	at := time.Now()
	if e.Header != nil && e.Header.Timestamp > 0 {
		at = time.Unix(int64(e.Header.Timestamp), 0)
	}

	// Block when the queue is full so the binlog reader applies backpressure.
	select {
	case h.listener.eventChan <- ChangeEvent{Table: e.Table.Name, Type: op, At: at}:
	case <-h.listener.ctx.Done():
		return h.listener.ctx.Err()
	}

	return nil
}

func (h *eventHandler) String() string {
	return "ChangeEventHandler"
}
