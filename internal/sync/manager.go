package sync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
)

// ChangeSource reports remote tables that changed outside this process.
type ChangeSource interface {
	Start() error
	Stop()
	Events() <-chan ChangeEvent
}

type Manager struct {
	cfg       *config.Config
	store     store.Store
	backend   remote.Backend
	syncCtx   *Context
	source    ChangeSource
	refresher *Refresher
	newSource func() (ChangeSource, error)
	mu        sync.Mutex
	status    string
}

// TableSchemas converts the configured tables into store schemas.
func TableSchemas(cfg config.SyncConfig) ([]store.TableSchema, error) {
	schemas := make([]store.TableSchema, 0, len(cfg.Tables))
	for _, t := range cfg.Tables {
		s := store.TableSchema{Name: t.Name, PrimaryKey: t.PrimaryKey}
		for _, c := range t.Columns {
			typ := store.ColumnType(c.Type)
			if typ == "" {
				typ = store.String
			}
			s.Columns = append(s.Columns, store.Column{Name: c.Name, Type: typ})
		}
		norm, err := s.Normalize()
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, norm)
	}
	return schemas, nil
}

// NewManager defines the configured tables in st and binds a sync context to
// it. The manager owns st from here on.
func NewManager(ctx context.Context, cfg *config.Config, st store.Store, backend remote.Backend) (*Manager, error) {
	schemas, err := TableSchemas(cfg.Sync)
	if err != nil {
		return nil, err
	}
	for _, s := range schemas {
		if err := st.DefineTable(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", s.Name, err)
		}
	}

	policy, err := PolicyByName(cfg.Sync.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	syncCtx := NewContext(backend, policy, WithCallTimeout(cfg.Remote.GetTimeout()))
	if err := syncCtx.Initialize(ctx, st); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		store:   st,
		backend: backend,
		syncCtx: syncCtx,
		status:  "idle",
	}
	m.newSource = func() (ChangeSource, error) {
		return NewBinlogListener(cfg.Remote.Database, cfg.Sync.Tables)
	}
	return m, nil
}

func (m *Manager) Context() *Context       { return m.syncCtx }
func (m *Manager) Store() store.Store      { return m.store }
func (m *Manager) Backend() remote.Backend { return m.backend }

// Offline reports whether reads and writes go through the local mirror.
func (m *Manager) Offline() bool { return m.cfg.Sync.Offline }

// Query returns the configured pull query for table.
func (m *Manager) Query(table string) (Query, bool) {
	t, ok := m.cfg.Sync.Table(table)
	if !ok {
		return Query{}, false
	}
	q := Query{Table: t.Name}
	if len(t.PullFilter) > 0 {
		q.Filter = make(store.Predicate, len(t.PullFilter))
		for _, f := range t.PullFilter {
			q.Filter[f.Column] = f.Value
		}
	}
	return q, true
}

// Queries returns one pull query per configured table, in config order.
func (m *Manager) Queries() []Query {
	out := make([]Query, 0, len(m.cfg.Sync.Tables))
	for _, t := range m.cfg.Sync.Tables {
		q, _ := m.Query(t.Name)
		out = append(out, q)
	}
	return out
}

func (m *Manager) withPushTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := m.cfg.Sync.GetPushTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// SyncAll pushes the queue and pulls every configured table.
func (m *Manager) SyncAll(ctx context.Context) (SyncResult, error) {
	ctx, cancel := m.withPushTimeout(ctx)
	defer cancel()
	return m.syncCtx.Sync(ctx, m.Queries()...)
}

func (m *Manager) Push(ctx context.Context) (PushResult, error) {
	ctx, cancel := m.withPushTimeout(ctx)
	defer cancel()
	return m.syncCtx.Push(ctx)
}

// PullTable pulls one configured table. extra narrows the configured filter.
func (m *Manager) PullTable(ctx context.Context, table string, extra store.Predicate) (PullResult, error) {
	q, ok := m.Query(table)
	if !ok {
		return PullResult{Table: table}, fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
	}
	if len(extra) > 0 {
		merged := make(store.Predicate, len(q.Filter)+len(extra))
		for k, v := range q.Filter {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		q.Filter = merged
	}
	ctx, cancel := m.withPushTimeout(ctx)
	defer cancel()
	return m.syncCtx.Pull(ctx, q)
}

// Start begins realtime refresh: remote changes reported by the change
// source trigger a pull of the affected table.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == "running" {
		return fmt.Errorf("realtime sync is already running")
	}

	logger.Log.Info("Starting realtime sync")

	source, err := m.newSource()
	if err != nil {
		return err
	}

	refresher := NewRefresher(m.cfg.Sync.GetFlushInterval(), source.Events(), func(ctx context.Context, table string) error {
		_, err := m.PullTable(ctx, table, nil)
		return err
	})
	refresher.Start()

	if err := source.Start(); err != nil {
		refresher.Stop()
		return err
	}

	m.source = source
	m.refresher = refresher
	m.status = "running"
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != "running" {
		return
	}

	logger.Log.Info("Stopping realtime sync")

	if m.source != nil {
		m.source.Stop()
	}
	if m.refresher != nil {
		m.refresher.Stop()
	}
	m.source = nil
	m.refresher = nil
	m.status = "idle"
}

func (m *Manager) Close() error {
	m.Stop()
	if err := m.syncCtx.Dispose(); err != nil {
		logger.Log.Warn("Sync context still busy at close", zap.Error(err))
	}
	return m.store.Close()
}

// Realtime returns "running" while the change source is active, else "idle".
func (m *Manager) Realtime() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

type Status struct {
	Session  string   `json:"session"`
	Realtime string   `json:"realtime"`
	Offline  bool     `json:"offline"`
	Pending  int      `json:"pending"`
	Tables   []string `json:"tables"`
}

func (m *Manager) GetStatus(ctx context.Context) (Status, error) {
	pending, err := m.store.Pending(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Session:  m.syncCtx.Status(),
		Realtime: m.Realtime(),
		Offline:  m.Offline(),
		Pending:  len(pending),
		Tables:   m.store.Tables(),
	}, nil
}
