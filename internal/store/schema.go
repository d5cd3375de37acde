package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Normalize validates the schema and appends any missing system columns.
// Reserved "_sync" prefixed table names are rejected.
func (s TableSchema) Normalize() (TableSchema, error) {
	if !identRe.MatchString(s.Name) || strings.HasPrefix(s.Name, "_sync") {
		return TableSchema{}, fmt.Errorf("%w: invalid table name %q", ErrSchema, s.Name)
	}

	out := TableSchema{Name: s.Name, PrimaryKey: s.PrimaryKey}
	if out.PrimaryKey == "" {
		out.PrimaryKey = DefaultPrimaryKey
	}

	seen := make(map[string]bool, len(s.Columns)+3)
	for _, c := range s.Columns {
		if !identRe.MatchString(c.Name) {
			return TableSchema{}, fmt.Errorf("%w: %s: invalid column name %q", ErrSchema, s.Name, c.Name)
		}
		if seen[c.Name] {
			return TableSchema{}, fmt.Errorf("%w: %s: duplicate column %q", ErrSchema, s.Name, c.Name)
		}
		if c.Type != String && c.Type != Boolean {
			return TableSchema{}, fmt.Errorf("%w: %s.%s: unsupported type %q", ErrSchema, s.Name, c.Name, c.Type)
		}
		seen[c.Name] = true
		out.Columns = append(out.Columns, c)
	}

	system := []Column{
		{Name: out.PrimaryKey, Type: String},
		{Name: DeletedColumn, Type: Boolean},
		{Name: VersionColumn, Type: String},
	}
	for _, sc := range system {
		if c, ok := out.Column(sc.Name); ok {
			if c.Type != sc.Type {
				return TableSchema{}, fmt.Errorf("%w: %s.%s must be %s", ErrSchema, s.Name, sc.Name, sc.Type)
			}
			continue
		}
		out.Columns = append(out.Columns, sc)
	}
	return out, nil
}

// Compatible reports whether two normalized schemas describe the same table.
// Column order is not significant.
func (s TableSchema) Compatible(other TableSchema) bool {
	if s.Name != other.Name || s.PrimaryKey != other.PrimaryKey || len(s.Columns) != len(other.Columns) {
		return false
	}
	for _, c := range s.Columns {
		oc, ok := other.Column(c.Name)
		if !ok || oc.Type != c.Type {
			return false
		}
	}
	return true
}

func (s TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// RecordID returns the primary key value of rec, or "" when absent.
func (s TableSchema) RecordID(rec Record) string {
	id, _ := rec[s.PrimaryKey].(string)
	return id
}

func zeroValue(t ColumnType) any {
	if t == Boolean {
		return false
	}
	return ""
}

// validate applies the strict policy used for local writes: unknown columns
// and mistyped values are rejected. nil values are accepted as the zero value.
func (s TableSchema) validate(rec Record) error {
	for k, v := range rec {
		c, ok := s.Column(k)
		if !ok {
			return fmt.Errorf("%w: %s has no column %q", ErrInvalidRecord, s.Name, k)
		}
		if v == nil {
			continue
		}
		switch c.Type {
		case String:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%w: %s.%s expects string, got %T", ErrInvalidRecord, s.Name, k, v)
			}
		case Boolean:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("%w: %s.%s expects boolean, got %T", ErrInvalidRecord, s.Name, k, v)
			}
		}
	}
	return nil
}

// Project applies the permissive policy used for pulled records: unknown
// columns are dropped, loosely typed values are coerced and missing columns
// take their zero value.
func (s TableSchema) Project(rec Record) Record {
	out := make(Record, len(s.Columns))
	for _, c := range s.Columns {
		v, ok := coerce(c.Type, rec[c.Name])
		if !ok {
			v = zeroValue(c.Type)
		}
		out[c.Name] = v
	}
	return out
}

func coerce(t ColumnType, v any) (any, bool) {
	switch t {
	case String:
		switch x := v.(type) {
		case string:
			return x, true
		case []byte:
			return string(x), true
		case nil:
			return "", false
		default:
			return fmt.Sprint(x), true
		}
	case Boolean:
		switch x := v.(type) {
		case bool:
			return x, true
		case int64:
			return x != 0, true
		case int:
			return x != 0, true
		case float64:
			return x != 0, true
		case []byte:
			b, err := strconv.ParseBool(string(x))
			return b, err == nil
		case string:
			b, err := strconv.ParseBool(x)
			return b, err == nil
		}
	}
	return nil, false
}

// CoercePredicate checks predicate columns and converts string literals
// (as they arrive from query strings) into the column's type.
func (s TableSchema) CoercePredicate(pred Predicate) (Predicate, error) {
	out := make(Predicate, len(pred))
	for k, v := range pred {
		c, ok := s.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %q", ErrInvalidQuery, s.Name, k)
		}
		cv, ok := coerce(c.Type, v)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s cannot match %v", ErrInvalidQuery, s.Name, k, v)
		}
		out[k] = cv
	}
	return out, nil
}

// Matches reports whether rec satisfies every constraint of p.
func (p Predicate) Matches(rec Record) bool {
	for k, v := range p {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// applyWrite computes the row that results from op on existing (nil when the
// row is absent). The version column is never taken from the caller.
func applyWrite(s TableSchema, existing, rec Record, op Operation) (Record, error) {
	if err := s.validate(rec); err != nil {
		return nil, err
	}

	switch op {
	case Insert:
		if existing != nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordExists, s.Name, s.RecordID(existing))
		}
		row := make(Record, len(s.Columns))
		for _, c := range s.Columns {
			row[c.Name] = zeroValue(c.Type)
		}
		for k, v := range rec {
			if v != nil && k != VersionColumn {
				row[k] = v
			}
		}
		if s.RecordID(row) == "" {
			row[s.PrimaryKey] = uuid.New().String()
		}
		return row, nil

	case Update:
		if existing == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, s.Name, s.RecordID(rec))
		}
		row := existing.Clone()
		for k, v := range rec {
			if k == VersionColumn || k == s.PrimaryKey {
				continue
			}
			if v == nil {
				v = zeroValue(mustColumn(s, k).Type)
			}
			row[k] = v
		}
		return row, nil

	case Delete:
		if existing == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, s.Name, s.RecordID(rec))
		}
		row := existing.Clone()
		row[DeletedColumn] = true
		return row, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidRecord, op)
}

func mustColumn(s TableSchema, name string) Column {
	c, _ := s.Column(name)
	return c
}

// Prepare validates rec and computes the row op would produce on existing,
// without touching any store. Writes that bypass the local mirror use it.
func (s TableSchema) Prepare(existing, rec Record, op Operation) (Record, error) {
	return applyWrite(s, existing, rec, op)
}
