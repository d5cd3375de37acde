package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offline-sync-service/internal/database"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/store"
)

// SQLBackend serves remote tables that live in a cloud SQL database. The
// version column is rewritten on every change and compared on update and
// delete, so concurrent writers surface as conflicts.
type SQLBackend struct {
	db      *database.Database
	schemas map[string]store.TableSchema
}

func NewSQLBackend(db *database.Database, schemas []store.TableSchema) (*SQLBackend, error) {
	b := &SQLBackend{
		db:      db,
		schemas: make(map[string]store.TableSchema, len(schemas)),
	}
	for _, s := range schemas {
		norm, err := s.Normalize()
		if err != nil {
			return nil, err
		}
		b.schemas[norm.Name] = norm
	}
	return b, nil
}

func (b *SQLBackend) Table(name string) (Table, error) {
	schema, ok := b.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return &sqlTable{db: b.db, schema: schema}, nil
}

// EnsureTables creates any missing remote tables. Production deployments
// usually own their DDL; this serves bootstrapping and tests.
func (b *SQLBackend) EnsureTables(ctx context.Context) error {
	driver := b.db.Config.Driver
	names := make([]string, 0, len(b.schemas))
	for n := range b.schemas {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		schema := b.schemas[n]
		cols := make([]string, 0, len(schema.Columns)+1)
		for _, c := range schema.Columns {
			typ := "VARCHAR(255) NOT NULL DEFAULT ''"
			if c.Type == store.Boolean {
				typ = "BOOLEAN NOT NULL DEFAULT FALSE"
			}
			cols = append(cols, database.QuoteIdent(driver, c.Name)+" "+typ)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", database.QuoteIdent(driver, schema.PrimaryKey)))

		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", database.QuoteIdent(driver, schema.Name), strings.Join(cols, ", "))
		if _, err := b.db.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create remote table %s: %w", schema.Name, err)
		}
	}
	return nil
}

type sqlTable struct {
	db     *database.Database
	schema store.TableSchema
}

func (t *sqlTable) q(name string) string {
	return database.QuoteIdent(t.db.Config.Driver, name)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (t *sqlTable) selectRows(ctx context.Context, q queryer, filter store.Predicate) ([]store.Record, error) {
	names := t.schema.ColumnNames()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = t.q(n)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), t.q(t.schema.Name))

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var where []string
	var args []any
	for _, k := range keys {
		where = append(where, t.q(k)+" = ?")
		args = append(args, filter[k])
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + t.q(t.schema.PrimaryKey)

	rows, err := q.QueryContext(ctx, t.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		dest := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(store.Record, len(names))
		for i, n := range names {
			rec[n] = dest[i]
		}
		out = append(out, t.schema.Project(rec))
	}
	return out, rows.Err()
}

func (t *sqlTable) Query(ctx context.Context, filter store.Predicate) ([]store.Record, error) {
	f, err := t.schema.CoercePredicate(filter)
	if err != nil {
		return nil, err
	}
	rows, err := t.selectRows(ctx, t.db.DB, f)
	if err != nil {
		return nil, unavailable(err)
	}
	return rows, nil
}

func (t *sqlTable) Apply(ctx context.Context, m store.PendingMutation) (store.Record, error) {
	var result store.Record
	err := t.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = t.apply(ctx, tx, m)
		return err
	})
	if err != nil {
		var conflict *ConflictError
		var rejected *RejectedError
		if errors.As(err, &conflict) || errors.As(err, &rejected) {
			return nil, err
		}
		logger.Log.Warn("Remote apply failed",
			zap.String("table", t.schema.Name),
			zap.String("id", m.RecordID),
			zap.Error(err),
		)
		return nil, unavailable(err)
	}
	return result, nil
}

func (t *sqlTable) current(ctx context.Context, tx *sql.Tx, id string) (store.Record, error) {
	rows, err := t.selectRows(ctx, tx, store.Predicate{t.schema.PrimaryKey: id})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (t *sqlTable) apply(ctx context.Context, tx *sql.Tx, m store.PendingMutation) (store.Record, error) {
	row := t.schema.Project(m.Record)
	row[t.schema.PrimaryKey] = m.RecordID
	base, _ := m.Record[store.VersionColumn].(string)
	next := uuid.New().String()

	existing, err := t.current(ctx, tx, m.RecordID)
	if err != nil {
		return nil, err
	}

	if m.Operation == store.Insert {
		if existing != nil {
			return nil, &ConflictError{Table: t.schema.Name, RecordID: m.RecordID, Server: existing}
		}
		row[store.VersionColumn] = next

		names := t.schema.ColumnNames()
		quoted := make([]string, len(names))
		marks := make([]string, len(names))
		args := make([]any, len(names))
		for i, n := range names {
			quoted[i] = t.q(n)
			marks[i] = "?"
			args[i] = row[n]
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.q(t.schema.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
		if _, err := tx.ExecContext(ctx, t.db.Rebind(query), args...); err != nil {
			return nil, err
		}
		return row, nil
	}

	if existing == nil {
		return nil, &RejectedError{Table: t.schema.Name, RecordID: m.RecordID, Message: "record does not exist"}
	}

	var sets []string
	var args []any
	switch m.Operation {
	case store.Update:
		for _, n := range t.schema.ColumnNames() {
			if n == t.schema.PrimaryKey || n == store.VersionColumn {
				continue
			}
			sets = append(sets, t.q(n)+" = ?")
			args = append(args, row[n])
		}
	case store.Delete:
		sets = append(sets, t.q(store.DeletedColumn)+" = ?")
		args = append(args, true)
	default:
		return nil, &RejectedError{Table: t.schema.Name, RecordID: m.RecordID, Message: "unknown operation " + string(m.Operation)}
	}
	sets = append(sets, t.q(store.VersionColumn)+" = ?")
	args = append(args, next, m.RecordID, base)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? AND %s = ?",
		t.q(t.schema.Name), strings.Join(sets, ", "), t.q(t.schema.PrimaryKey), t.q(store.VersionColumn))
	res, err := tx.ExecContext(ctx, t.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &ConflictError{Table: t.schema.Name, RecordID: m.RecordID, Server: existing}
	}
	return t.current(ctx, tx, m.RecordID)
}

var _ Backend = (*SQLBackend)(nil)

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
