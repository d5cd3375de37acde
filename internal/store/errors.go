package store

import "errors"

var (
	// ErrSchema is returned when a table is redefined with an incompatible schema
	// or a schema definition is malformed.
	ErrSchema = errors.New("schema error")
	// ErrInvalidRecord is returned when a record does not conform to its table schema.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrInvalidQuery is returned when a predicate names an unknown column or has a mistyped value.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrTableNotFound is returned when a table has not been defined.
	ErrTableNotFound = errors.New("table not found")
	// ErrRecordNotFound is returned when an update or delete targets a missing record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrRecordExists is returned when an insert reuses an existing primary key.
	ErrRecordExists = errors.New("record already exists")
	// ErrMutationNotFound is returned when a queued mutation id is unknown.
	ErrMutationNotFound = errors.New("mutation not found")
	// ErrConflictNotFound is returned when a conflict id is unknown.
	ErrConflictNotFound = errors.New("conflict not found")
)
