package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
)

// Context coordinates push and pull sessions between one local store and a
// remote backend. At most one session runs at a time; overlapping requests
// fail with ErrSyncInProgress.
type Context struct {
	backend     remote.Backend
	policy      Policy
	callTimeout time.Duration

	mu        sync.Mutex
	store     store.Store
	conflicts *ConflictManager
	status    string
}

type Option func(*Context)

// WithCallTimeout bounds every remote call. A call that times out leaves its
// mutation queued.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Context) { c.callTimeout = d }
}

// NewContext builds an uninitialized context. A nil policy means DiscardPolicy.
func NewContext(backend remote.Backend, policy Policy, opts ...Option) *Context {
	if policy == nil {
		policy = DiscardPolicy{}
	}
	c := &Context{
		backend: backend,
		policy:  policy,
		status:  "uninitialized",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize binds the context to s. Mutations left "pushing" by a crash are
// returned to the queue.
func (c *Context) Initialize(ctx context.Context, s store.Store) error {
	if s == nil {
		return errors.New("sync: nil store")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		return ErrAlreadyInitialized
	}

	n, err := s.ResetInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight mutations: %w", err)
	}
	if n > 0 {
		logger.Log.Info("Requeued interrupted mutations", zap.Int("count", n))
	}

	c.store = s
	c.conflicts = NewConflictManager(s)
	c.status = "idle"
	return nil
}

// Dispose detaches the store. It fails while a session is running.
func (c *Context) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return ErrNotInitialized
	}
	if c.status != "idle" {
		return ErrSyncInProgress
	}
	c.store = nil
	c.conflicts = nil
	c.status = "uninitialized"
	return nil
}

// Status is "uninitialized", "idle", "pushing", "pulling" or "syncing".
func (c *Context) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Context) begin(status string) (store.Store, *ConflictManager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return nil, nil, ErrNotInitialized
	}
	if c.status != "idle" {
		return nil, nil, ErrSyncInProgress
	}
	c.status = status
	return c.store, c.conflicts, nil
}

func (c *Context) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = "idle"
}

// session is the state of one push/pull cycle.
type session struct {
	store     store.Store
	conflicts *ConflictManager
	history   *store.SyncHistory
}

func (c *Context) open(ctx context.Context, direction string, tables []string) (*session, error) {
	s, cm, err := c.begin(direction + "ing")
	if err != nil {
		return nil, err
	}

	sort.Strings(tables)
	h := &store.SyncHistory{
		ID:           uuid.New().String(),
		StartedAt:    time.Now(),
		Direction:    direction,
		TablesSynced: strings.Join(tables, ","),
		Status:       "running",
	}
	if err := s.CreateSyncHistory(ctx, h); err != nil {
		logger.Log.Warn("Failed to record sync history", zap.Error(err))
	}
	return &session{store: s, conflicts: cm, history: h}, nil
}

func (c *Context) close(ctx context.Context, sess *session, push *PushResult, pulls []PullResult, err error) {
	defer c.end()

	h := sess.history
	now := time.Now()
	h.CompletedAt = &now
	h.Status = "completed"

	var failures []string
	if push != nil {
		h.Applied = push.Applied
		h.Discarded = push.Discarded
		h.Failed = push.Failed
		h.ConflictsDetected = push.Conflicts
		if push.Err != nil {
			failures = append(failures, push.Error)
		}
	}
	for _, p := range pulls {
		h.Merged += p.Merged
		if p.Err != nil {
			failures = append(failures, p.Table+": "+p.Error)
		}
	}
	if err != nil {
		failures = append(failures, err.Error())
	}
	if len(failures) > 0 {
		h.Status = "failed"
		h.ErrorMessage = strings.Join(failures, "; ")
	}

	// The caller's context may already be done; history is still worth keeping.
	if err := sess.store.UpdateSyncHistory(context.WithoutCancel(ctx), h); err != nil {
		logger.Log.Warn("Failed to update sync history", zap.Error(err))
	}
}

// Push sends every queued mutation to the remote in FIFO order. Remote
// failures are reported in the result; the returned error is reserved for
// lifecycle and local store failures.
func (c *Context) Push(ctx context.Context) (PushResult, error) {
	sess, err := c.open(ctx, "push", nil)
	if err != nil {
		return PushResult{}, err
	}
	res, err := c.push(ctx, sess)
	c.close(ctx, sess, &res, nil, err)
	return res, err
}

// Pull fetches the remote rows matching q and merges them into the local
// mirror. Records with queued mutations are left untouched.
func (c *Context) Pull(ctx context.Context, q Query) (PullResult, error) {
	sess, err := c.open(ctx, "pull", []string{q.Table})
	if err != nil {
		return PullResult{Table: q.Table}, err
	}
	res, err := c.pull(ctx, sess, q)
	c.close(ctx, sess, nil, []PullResult{res}, err)
	return res, err
}

// Sync runs one session: a push followed by a pull per query.
func (c *Context) Sync(ctx context.Context, queries ...Query) (SyncResult, error) {
	tables := make([]string, 0, len(queries))
	for _, q := range queries {
		tables = append(tables, q.Table)
	}
	sess, err := c.open(ctx, "sync", tables)
	if err != nil {
		return SyncResult{}, err
	}

	var out SyncResult
	out.Push, err = c.push(ctx, sess)
	if err == nil {
		for _, q := range queries {
			var pr PullResult
			pr, err = c.pull(ctx, sess, q)
			out.Pulls = append(out.Pulls, pr)
			if err != nil {
				break
			}
		}
	}
	c.close(ctx, sess, &out.Push, out.Pulls, err)
	return out, err
}

func (c *Context) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout > 0 {
		return context.WithTimeout(ctx, c.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Context) apply(ctx context.Context, m store.PendingMutation) (store.Record, error) {
	// A table the remote does not serve is a configuration problem, not a
	// verdict on the mutation: it stays queued.
	table, err := c.backend.Table(m.Table)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	return table.Apply(callCtx, m)
}

// transient reports errors that must leave the mutation queued untouched.
func transient(err error) bool {
	return !errors.Is(err, remote.ErrConflict) && !errors.Is(err, remote.ErrRejected)
}

func (c *Context) push(ctx context.Context, sess *session) (PushResult, error) {
	var res PushResult
	s := sess.store

	// The queue is re-read every round: acknowledging a mutation rebases the
	// later ones for the same record onto the new server version.
	for {
		pending, err := s.Pending(context.WithoutCancel(ctx))
		if err != nil {
			return res, fmt.Errorf("failed to read queue: %w", err)
		}
		if len(pending) == 0 {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			res.Remaining = len(pending)
			res.fail(fmt.Errorf("%w: %w", remote.ErrRemoteUnavailable, err))
			return res, nil
		}

		m := pending[0]
		d, halt, err := c.pushOne(ctx, sess, m)
		if err != nil {
			return res, err
		}
		res.add(d)
		if halt {
			res.Remaining = len(pending) - 1
			res.Halted = true
			if d.err != nil {
				res.Err = d.err
				res.Error = d.Error
			}
			logger.Log.Warn("Push halted",
				zap.String("mutation", m.String()),
				zap.String("outcome", string(d.Outcome)),
				zap.Int("remaining", res.Remaining),
			)
			return res, nil
		}
	}
}

// pushOne drives one mutation through queued -> pushing -> outcome. halt is
// set when the mutation stays queued, since later mutations must not overtake it.
func (c *Context) pushOne(ctx context.Context, sess *session, m store.PendingMutation) (Disposition, bool, error) {
	s := sess.store
	d := Disposition{
		MutationID: m.ID,
		Table:      m.Table,
		RecordID:   m.RecordID,
		Operation:  m.Operation,
	}

	// Local bookkeeping runs to completion even after the push deadline.
	local := context.WithoutCancel(ctx)

	attempts := m.Attempts + 1
	if err := s.MarkMutation(local, m.ID, store.StatePushing, attempts); err != nil {
		return d, false, err
	}
	requeue := func(cause error) (Disposition, bool, error) {
		d.Outcome = OutcomeFailed
		d.Error = cause.Error()
		d.err = cause
		if err := s.MarkMutation(local, m.ID, store.StateQueued, attempts); err != nil {
			return d, true, err
		}
		return d, true, nil
	}

	applied := func(server store.Record) (Disposition, bool, error) {
		if err := s.Acknowledge(local, m, server); err != nil {
			return d, false, err
		}
		if m.Attempts > 0 {
			sess.conflicts.Settle(local, m, "applied")
		}
		d.Outcome = OutcomeApplied
		return d, false, nil
	}

	server, err := c.apply(ctx, m)
	if err == nil {
		return applied(server)
	}
	if transient(err) {
		return requeue(err)
	}

	isConflict, conflict := sess.conflicts.DetectConflict(m, err)
	if !isConflict {
		// The remote already holds these values.
		return applied(conflict.Server)
	}

	if err := sess.conflicts.RecordConflict(local, conflict); err != nil {
		logger.Log.Warn("Failed to record conflict", zap.String("conflict", conflict.ID), zap.Error(err))
	}
	d.ConflictID = conflict.ID

	var resolution Resolution
	if conflict.IsConflict() {
		resolution = c.policy.OnConflict(conflict)
	} else {
		resolution = c.policy.OnError(conflict)
	}
	logger.Log.Info("Push rejected",
		zap.String("mutation", m.String()),
		zap.String("type", conflict.Type()),
		zap.String("resolution", resolution.String()),
		zap.Error(err),
	)
	// Only terminal outcomes close the conflict. A requeued mutation keeps it
	// open for the operator.
	resolved := func() {
		if err := sess.conflicts.ResolveConflict(local, conflict, resolution); err != nil {
			logger.Log.Warn("Failed to resolve conflict", zap.String("conflict", conflict.ID), zap.Error(err))
		}
	}

	switch resolution {
	case CancelAndDiscard:
		if err := s.Discard(local, m, conflict.Server); err != nil {
			return d, false, err
		}
		resolved()
		d.Outcome = OutcomeDiscarded
		d.Error = err.Error()
		return d, false, nil

	case Overwrite:
		retry := overwriteOf(m, conflict.Server)
		server, retryErr := c.apply(ctx, retry)
		if retryErr != nil {
			return requeue(retryErr)
		}
		if err := s.Acknowledge(local, m, server); err != nil {
			return d, false, err
		}
		resolved()
		d.Outcome = OutcomeOverwritten
		return d, false, nil

	default:
		return requeue(err)
	}
}

// overwriteOf rebases m onto the server's version so that it replaces the
// server row. An insert that collided with an existing row becomes an update.
func overwriteOf(m store.PendingMutation, server store.Record) store.PendingMutation {
	retry := m
	retry.Record = m.Record.Clone()
	if server != nil {
		retry.Record[store.VersionColumn] = server[store.VersionColumn]
		if m.Operation == store.Insert {
			retry.Operation = store.Update
		}
	}
	return retry
}

func (c *Context) pull(ctx context.Context, sess *session, q Query) (PullResult, error) {
	res := PullResult{Table: q.Table}

	schema, err := sess.store.Schema(q.Table)
	if err != nil {
		return res, err
	}
	filter, err := schema.CoercePredicate(q.Filter)
	if err != nil {
		return res, err
	}

	table, err := c.backend.Table(q.Table)
	if err != nil {
		res.fail(err)
		return res, nil
	}

	callCtx, cancel := c.callContext(ctx)
	records, err := table.Query(callCtx, filter)
	cancel()
	if err != nil {
		logger.Log.Warn("Pull failed", zap.String("query", q.String()), zap.Error(err))
		res.fail(err)
		return res, nil
	}
	res.Fetched = len(records)

	merged, err := sess.store.Merge(ctx, q.Table, records)
	if err != nil {
		return res, fmt.Errorf("failed to merge %s: %w", q.Table, err)
	}
	res.Merged = merged.Merged
	res.Skipped = merged.Skipped

	logger.Log.Debug("Pulled table",
		zap.String("query", q.String()),
		zap.Int("fetched", res.Fetched),
		zap.Int("merged", res.Merged),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
