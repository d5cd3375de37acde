package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/database"
	"offline-sync-service/internal/logger"
)

const metaDDL = `
CREATE TABLE IF NOT EXISTS _sync_schemas (
    name       TEXT PRIMARY KEY,
    definition TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS _sync_operations (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    table_name TEXT NOT NULL,
    record_id  TEXT NOT NULL,
    operation  TEXT NOT NULL,
    payload    TEXT NOT NULL,
    state      TEXT NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS _sync_operations_record ON _sync_operations(table_name, record_id);
CREATE TABLE IF NOT EXISTS _sync_conflicts (
    id                  TEXT PRIMARY KEY,
    table_name          TEXT NOT NULL,
    primary_key_value   TEXT NOT NULL,
    mutation_id         TEXT NOT NULL,
    operation           TEXT NOT NULL,
    local_data          TEXT NOT NULL,
    cloud_data          TEXT,
    conflict_type       TEXT NOT NULL,
    error_message       TEXT NOT NULL DEFAULT '',
    detected_at         TEXT NOT NULL,
    resolved            INTEGER NOT NULL DEFAULT 0,
    resolution_strategy TEXT NOT NULL DEFAULT '',
    resolved_at         TEXT
);
CREATE INDEX IF NOT EXISTS _sync_conflicts_mutation ON _sync_conflicts(mutation_id, resolved);
CREATE TABLE IF NOT EXISTS _sync_history (
    id                 TEXT PRIMARY KEY,
    started_at         TEXT NOT NULL,
    completed_at       TEXT,
    direction          TEXT NOT NULL,
    tables_synced      TEXT NOT NULL,
    applied            INTEGER NOT NULL DEFAULT 0,
    discarded          INTEGER NOT NULL DEFAULT 0,
    failed             INTEGER NOT NULL DEFAULT 0,
    merged             INTEGER NOT NULL DEFAULT 0,
    conflicts_detected INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL,
    error_message      TEXT NOT NULL DEFAULT ''
);`

// SQLiteStore persists the local mirror in SQLite: one physical table per
// schema plus the _sync_* bookkeeping tables.
type SQLiteStore struct {
	db    *database.Database
	locks *tableLocks

	mu      sync.RWMutex
	schemas map[string]TableSchema
}

func NewSQLiteStore(cfg config.LocalStoreConfig) (*SQLiteStore, error) {
	db, err := database.NewDatabase(config.DatabaseConnection{
		Driver:   "sqlite3",
		Database: cfg.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	s, err := newSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLiteStore(db *database.Database) (*SQLiteStore, error) {
	if _, err := db.DB.Exec(metaDDL); err != nil {
		return nil, fmt.Errorf("failed to create sync tables: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		locks:   newTableLocks(),
		schemas: make(map[string]TableSchema),
	}
	if err := s.loadSchemas(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) loadSchemas() error {
	rows, err := s.db.DB.Query(`SELECT definition FROM _sync_schemas`)
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return err
		}
		var schema TableSchema
		if err := json.Unmarshal([]byte(def), &schema); err != nil {
			return fmt.Errorf("%w: corrupt stored definition: %v", ErrSchema, err)
		}
		s.schemas[schema.Name] = schema
	}
	return rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func quote(name string) string {
	return database.QuoteIdent("sqlite3", name)
}

func (s *SQLiteStore) DefineTable(ctx context.Context, schema TableSchema) error {
	norm, err := schema.Normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.schemas[norm.Name]; ok {
		if !existing.Compatible(norm) {
			return fmt.Errorf("%w: table %s already defined with a different schema", ErrSchema, norm.Name)
		}
		return nil
	}

	cols := make([]string, 0, len(norm.Columns)+1)
	for _, c := range norm.Columns {
		if c.Type == Boolean {
			cols = append(cols, fmt.Sprintf("%s INTEGER NOT NULL DEFAULT 0", quote(c.Name)))
		} else {
			cols = append(cols, fmt.Sprintf("%s TEXT NOT NULL DEFAULT ''", quote(c.Name)))
		}
	}
	cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", quote(norm.PrimaryKey)))
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(norm.Name), strings.Join(cols, ",\n    "))

	def, err := json.Marshal(norm)
	if err != nil {
		return err
	}

	err = s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO _sync_schemas (name, definition) VALUES (?, ?)`, norm.Name, string(def))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to define table %s: %w", norm.Name, err)
	}

	s.schemas[norm.Name] = norm
	logger.Log.Debug("Defined local table", zap.String("table", norm.Name), zap.Int("columns", len(norm.Columns)))
	return nil
}

func (s *SQLiteStore) Schema(table string) (TableSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, ok := s.schemas[table]
	if !ok {
		return TableSchema{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return schema, nil
}

func (s *SQLiteStore) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]string, 0, len(s.schemas))
	for name := range s.schemas {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func toSQL(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func (s *SQLiteStore) selectRows(ctx context.Context, q queryer, schema TableSchema, pred Predicate) ([]Record, error) {
	names := schema.ColumnNames()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quote(schema.Name))

	// Sorted for a stable statement text.
	keys := make([]string, 0, len(pred))
	for k := range pred {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var where []string
	var args []any
	for _, k := range keys {
		where = append(where, quote(k)+" = ?")
		args = append(args, toSQL(pred[k]))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		dest := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(names))
		for i, n := range names {
			rec[n] = dest[i]
		}
		out = append(out, schema.Project(rec))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Read(ctx context.Context, table string, pred Predicate) ([]Record, error) {
	schema, err := s.Schema(table)
	if err != nil {
		return nil, err
	}
	p, err := schema.CoercePredicate(pred)
	if err != nil {
		return nil, err
	}
	return s.selectRows(ctx, s.db.DB, schema, p)
}

func (s *SQLiteStore) Get(ctx context.Context, table, id string) (Record, error) {
	schema, err := s.Schema(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.selectRows(ctx, s.db.DB, schema, Predicate{schema.PrimaryKey: id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	return rows[0], nil
}

func (s *SQLiteStore) getTx(ctx context.Context, tx *sql.Tx, schema TableSchema, id string) (Record, error) {
	if id == "" {
		return nil, nil
	}
	rows, err := s.selectRows(ctx, tx, schema, Predicate{schema.PrimaryKey: id})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// putTx inserts or updates a full row. Updating in place keeps the rowid,
// and with it the read order.
func (s *SQLiteStore) putTx(ctx context.Context, tx *sql.Tx, schema TableSchema, row Record, exists bool) error {
	names := schema.ColumnNames()
	args := make([]any, 0, len(names)+1)

	if exists {
		sets := make([]string, 0, len(names))
		for _, n := range names {
			if n == schema.PrimaryKey {
				continue
			}
			sets = append(sets, quote(n)+" = ?")
			args = append(args, toSQL(row[n]))
		}
		args = append(args, row[schema.PrimaryKey])
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quote(schema.Name), strings.Join(sets, ", "), quote(schema.PrimaryKey))
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}

	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
		marks[i] = "?"
		args = append(args, toSQL(row[n]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(schema.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStore) Write(ctx context.Context, table string, rec Record, op Operation) (Record, error) {
	schema, err := s.Schema(table)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(table)
	defer unlock()

	var row Record
	err = s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.getTx(ctx, tx, schema, schema.RecordID(rec))
		if err != nil {
			return err
		}
		row, err = applyWrite(schema, existing, rec, op)
		if err != nil {
			return err
		}
		if err := s.putTx(ctx, tx, schema, row, existing != nil); err != nil {
			return err
		}

		payload, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO _sync_operations (id, table_name, record_id, operation, payload, state, attempts, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			uuid.New().String(), table, schema.RecordID(row), string(op), string(payload), string(StateQueued), formatTime(time.Now()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *SQLiteStore) Merge(ctx context.Context, table string, records []Record) (MergeResult, error) {
	var res MergeResult
	schema, err := s.Schema(table)
	if err != nil {
		return res, err
	}

	unlock := s.locks.lock(table)
	defer unlock()

	err = s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		res = MergeResult{}
		for _, rec := range records {
			row := schema.Project(rec)
			id := schema.RecordID(row)
			if id == "" {
				res.Skipped++
				continue
			}
			pending, err := hasPending(ctx, tx, table, id)
			if err != nil {
				return err
			}
			if pending {
				res.Skipped++
				continue
			}
			existing, err := s.getTx(ctx, tx, schema, id)
			if err != nil {
				return err
			}
			if err := s.putTx(ctx, tx, schema, row, existing != nil); err != nil {
				return err
			}
			res.Merged++
		}
		return nil
	})
	return res, err
}

func hasPending(ctx context.Context, q queryer, table, id string) (bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT 1 FROM _sync_operations WHERE table_name = ? AND record_id = ? LIMIT 1`, table, id)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

func (s *SQLiteStore) HasPending(ctx context.Context, table, id string) (bool, error) {
	return hasPending(ctx, s.db.DB, table, id)
}

func scanMutations(rows *sql.Rows) ([]PendingMutation, error) {
	defer rows.Close()

	var out []PendingMutation
	for rows.Next() {
		var m PendingMutation
		var op, state, payload, created string
		if err := rows.Scan(&m.Seq, &m.ID, &m.Table, &m.RecordID, &op, &payload, &state, &m.Attempts, &created); err != nil {
			return nil, err
		}
		m.Operation = Operation(op)
		m.State = MutationState(state)
		m.CreatedAt = parseTime(created)
		if err := json.Unmarshal([]byte(payload), &m.Record); err != nil {
			return nil, fmt.Errorf("corrupt payload for mutation %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const mutationColumns = `seq, id, table_name, record_id, operation, payload, state, attempts, created_at`

func (s *SQLiteStore) Pending(ctx context.Context) ([]PendingMutation, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT `+mutationColumns+` FROM _sync_operations ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return scanMutations(rows)
}

func (s *SQLiteStore) MarkMutation(ctx context.Context, id string, state MutationState, attempts int) error {
	res, err := s.db.DB.ExecContext(ctx, `UPDATE _sync_operations SET state = ?, attempts = ? WHERE id = ?`, string(state), attempts, id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrMutationNotFound, id)
}

func expectOne(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

func dequeueTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM _sync_operations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrMutationNotFound, id)
}

func (s *SQLiteStore) Acknowledge(ctx context.Context, op PendingMutation, server Record) error {
	schema, schemaErr := s.Schema(op.Table)

	unlock := s.locks.lock(op.Table)
	defer unlock()

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if err := dequeueTx(ctx, tx, op.ID); err != nil {
			return err
		}
		if schemaErr != nil || server == nil {
			return nil
		}

		row := schema.Project(server)
		row[schema.PrimaryKey] = op.RecordID
		_, versioned := server[VersionColumn]

		rows, err := tx.QueryContext(ctx, `SELECT `+mutationColumns+` FROM _sync_operations WHERE table_name = ? AND record_id = ? ORDER BY seq`, op.Table, op.RecordID)
		if err != nil {
			return err
		}
		later, err := scanMutations(rows)
		if err != nil {
			return err
		}

		existing, err := s.getTx(ctx, tx, schema, op.RecordID)
		if err != nil {
			return err
		}
		if !versioned && existing != nil {
			row[VersionColumn] = existing[VersionColumn]
		}
		if len(later) == 0 {
			return s.putTx(ctx, tx, schema, row, existing != nil)
		}
		if !versioned {
			return nil
		}

		// Later writes to the same record are still queued: keep the local
		// values and rebase them onto the version the server just issued.
		if existing != nil {
			query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", quote(schema.Name), quote(VersionColumn), quote(schema.PrimaryKey))
			if _, err := tx.ExecContext(ctx, query, row[VersionColumn], op.RecordID); err != nil {
				return err
			}
		}
		for _, m := range later {
			m.Record[VersionColumn] = row[VersionColumn]
			payload, err := json.Marshal(m.Record)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE _sync_operations SET payload = ? WHERE id = ?`, string(payload), m.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Discard(ctx context.Context, op PendingMutation, server Record) error {
	schema, schemaErr := s.Schema(op.Table)

	unlock := s.locks.lock(op.Table)
	defer unlock()

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if err := dequeueTx(ctx, tx, op.ID); err != nil {
			return err
		}
		if schemaErr != nil {
			return nil
		}
		if pending, err := hasPending(ctx, tx, op.Table, op.RecordID); err != nil || pending {
			return err
		}

		existing, err := s.getTx(ctx, tx, schema, op.RecordID)
		if err != nil {
			return err
		}
		if server != nil {
			row := schema.Project(server)
			row[schema.PrimaryKey] = op.RecordID
			return s.putTx(ctx, tx, schema, row, existing != nil)
		}
		if existing == nil || existing[VersionColumn] != "" {
			return nil
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(schema.Name), quote(schema.PrimaryKey))
		_, err = tx.ExecContext(ctx, query, op.RecordID)
		return err
	})
}

func (s *SQLiteStore) ResetInFlight(ctx context.Context) (int, error) {
	res, err := s.db.DB.ExecContext(ctx, `UPDATE _sync_operations SET state = ? WHERE state = ?`, string(StateQueued), string(StatePushing))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	query := `INSERT INTO _sync_conflicts (id, table_name, primary_key_value, mutation_id, operation, local_data, cloud_data, conflict_type, error_message, detected_at, resolved)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	var cloud any
	if len(conflict.CloudData) > 0 {
		cloud = string(conflict.CloudData)
	}
	_, err := s.db.DB.ExecContext(ctx, query,
		conflict.ID,
		conflict.TableName,
		conflict.PrimaryKeyValue,
		conflict.MutationID,
		string(conflict.Operation),
		string(conflict.LocalData),
		cloud,
		conflict.ConflictType,
		conflict.ErrorMessage,
		formatTime(conflict.DetectedAt),
	)
	return err
}

const conflictColumns = `id, table_name, primary_key_value, mutation_id, operation, local_data, cloud_data, conflict_type, error_message, detected_at, resolved, resolution_strategy, resolved_at`

func scanConflicts(rows *sql.Rows) ([]*Conflict, error) {
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		var c Conflict
		var op, local, detected string
		var cloud, resolvedAt sql.NullString
		err := rows.Scan(
			&c.ID,
			&c.TableName,
			&c.PrimaryKeyValue,
			&c.MutationID,
			&op,
			&local,
			&cloud,
			&c.ConflictType,
			&c.ErrorMessage,
			&detected,
			&c.Resolved,
			&c.ResolutionStrategy,
			&resolvedAt,
		)
		if err != nil {
			return nil, err
		}
		c.Operation = Operation(op)
		c.LocalData = json.RawMessage(local)
		if cloud.Valid {
			c.CloudData = json.RawMessage(cloud.String)
		}
		c.DetectedAt = parseTime(detected)
		if resolvedAt.Valid {
			t := parseTime(resolvedAt.String)
			c.ResolvedAt = &t
		}
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*Conflict, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + conflictColumns + ` FROM _sync_conflicts WHERE resolved = ? ORDER BY detected_at LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, toSQL(resolved), limit, offset)
	if err != nil {
		return nil, err
	}
	return scanConflicts(rows)
}

func (s *SQLiteStore) OpenConflict(ctx context.Context, mutationID string) (*Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM _sync_conflicts WHERE mutation_id = ? AND resolved = 0 ORDER BY detected_at LIMIT 1`

	rows, err := s.db.DB.QueryContext(ctx, query, mutationID)
	if err != nil {
		return nil, err
	}
	conflicts, err := scanConflicts(rows)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, fmt.Errorf("%w: mutation %s", ErrConflictNotFound, mutationID)
	}
	return conflicts[0], nil
}

func (s *SQLiteStore) ResolveConflict(ctx context.Context, id string, strategy string) error {
	query := `UPDATE _sync_conflicts SET resolved = 1, resolution_strategy = ?, resolved_at = ? WHERE id = ?`

	res, err := s.db.DB.ExecContext(ctx, query, strategy, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrConflictNotFound, id)
}

func (s *SQLiteStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO _sync_history (id, started_at, completed_at, direction, tables_synced, applied, discarded, failed, merged, conflicts_detected, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		history.ID,
		formatTime(history.StartedAt),
		nullTime(history.CompletedAt),
		history.Direction,
		history.TablesSynced,
		history.Applied,
		history.Discarded,
		history.Failed,
		history.Merged,
		history.ConflictsDetected,
		history.Status,
		history.ErrorMessage,
	)
	return err
}

func (s *SQLiteStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `UPDATE _sync_history SET completed_at = ?, applied = ?, discarded = ?, failed = ?, merged = ?, conflicts_detected = ?, status = ?, error_message = ? WHERE id = ?`

	res, err := s.db.DB.ExecContext(ctx, query,
		nullTime(history.CompletedAt),
		history.Applied,
		history.Discarded,
		history.Failed,
		history.Merged,
		history.ConflictsDetected,
		history.Status,
		history.ErrorMessage,
		history.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(res, errors.New("sync history not found"), history.ID)
}

func (s *SQLiteStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, started_at, completed_at, direction, tables_synced, applied, discarded, failed, merged, conflicts_detected, status, error_message
			  FROM _sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		var started string
		var completed sql.NullString
		err := rows.Scan(
			&h.ID,
			&started,
			&completed,
			&h.Direction,
			&h.TablesSynced,
			&h.Applied,
			&h.Discarded,
			&h.Failed,
			&h.Merged,
			&h.ConflictsDetected,
			&h.Status,
			&h.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		h.StartedAt = parseTime(started)
		if completed.Valid {
			t := parseTime(completed.String)
			h.CompletedAt = &t
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		logger.Log.Warn("Unparseable timestamp in local store", zap.String("value", s), zap.Error(err))
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

var _ Store = (*SQLiteStore)(nil)
