package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TableInventory    = "inventory"
	TableChatMessages = "chat_messages"
	TableChatSessions = "chat_sessions"
	TableAppointments = "appointments"
)

var (
	ErrNotFound     = errors.New("store: row not found")
	ErrUnknownTable = errors.New("store: unknown table")
	ErrBadField     = errors.New("store: unknown field")
	ErrConflict     = errors.New("store: unique constraint violated")
)

// Row is one record as JSON, exactly as the backend returned it.
type Row = json.RawMessage

type Op string

const (
	OpEq  Op = "eq"
	OpIn  Op = "in"
	OpGte Op = "gte"
	OpLte Op = "lte"
	// OpContains is a case-insensitive substring match.
	OpContains Op = "contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter  { return Filter{Field: field, Op: OpEq, Value: value} }
func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }
func Lte(field string, value any) Filter { return Filter{Field: field, Op: OpLte, Value: value} }

func Contains(field, substr string) Filter {
	return Filter{Field: field, Op: OpContains, Value: substr}
}

func In(field string, values ...any) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	Order   Order
	Limit   int
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change is one row-level notification from a table's change feed. Row is
// nil for deletes.
type Change struct {
	Table string    `json:"table"`
	Type  EventType `json:"type"`
	ID    string    `json:"id"`
	Row   Row       `json:"record,omitempty"`
}

// Field decodes a single top-level column of the changed row.
func (c Change) Field(name string) (any, bool) {
	if len(c.Row) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(c.Row, &m); err != nil {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

type Subscription interface {
	Close() error
}

// Watcher opens a whole-table change feed. onStatus reports whether the
// feed is currently established.
type Watcher interface {
	Watch(ctx context.Context, table string, onChange func(Change), onStatus func(bool)) (Subscription, error)
}

type Backend interface {
	Watcher
	Insert(ctx context.Context, table string, row any) (Row, error)
	Upsert(ctx context.Context, table, conflictField string, row any) (Row, error)
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Update(ctx context.Context, table string, filters []Filter, patch map[string]any) ([]Row, error)
	Delete(ctx context.Context, table, id string) error
	Close() error
}

type TableDef struct {
	Name    string
	Columns []string
	// Stamped columns are set to the write time by the store.
	CreatedColumn string
	UpdatedColumn string
	Unique        []string
}

func (d TableDef) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

var tables = map[string]TableDef{
	TableInventory: {
		Name: TableInventory,
		Columns: []string{"id", "name", "category", "stock", "price", "supplier", "description",
			"frame_type", "lens_type", "color", "size", "image", "created_at", "updated_at"},
		CreatedColumn: "created_at",
		UpdatedColumn: "updated_at",
	},
	TableChatMessages: {
		Name:          TableChatMessages,
		Columns:       []string{"id", "session_id", "role", "message", "user_name", "timestamp", "is_read", "metadata"},
		CreatedColumn: "timestamp",
	},
	TableChatSessions: {
		Name:          TableChatSessions,
		Columns:       []string{"id", "session_id", "user_name", "user_email", "status", "created_at", "updated_at"},
		CreatedColumn: "created_at",
		UpdatedColumn: "updated_at",
		Unique:        []string{"session_id"},
	},
	TableAppointments: {
		Name: TableAppointments,
		Columns: []string{"id", "name", "phone", "email", "time", "status", "notes", "doctor", "department",
			"priority", "appointment_type", "request_source", "created_at", "updated_at"},
		CreatedColumn: "created_at",
		UpdatedColumn: "updated_at",
	},
}

func Lookup(table string) (TableDef, error) {
	def, ok := tables[table]
	if !ok {
		return TableDef{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return def, nil
}

func Tables() []TableDef {
	return []TableDef{tables[TableInventory], tables[TableChatMessages], tables[TableChatSessions], tables[TableAppointments]}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexically time-ordered row id.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

const zeroTime = "0001-01-01T00:00:00Z"

// Prepare turns a row value into a column map ready to be written: unknown
// columns are dropped, a missing id is generated and stamped columns are
// filled in.
func Prepare(def TableDef, row any, now time.Time) (map[string]any, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", def.Name, err)
	}
	var in map[string]any
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("encode %s row: %w", def.Name, err)
	}

	out := make(map[string]any, len(def.Columns))
	for _, c := range def.Columns {
		if v, ok := in[c]; ok {
			out[c] = v
		}
	}

	if id, _ := out["id"].(string); id == "" {
		out["id"] = NewID(now)
	}
	stamp := now.UTC().Format(time.RFC3339Nano)
	if def.CreatedColumn != "" && missingTime(out[def.CreatedColumn]) {
		out[def.CreatedColumn] = stamp
	}
	if def.UpdatedColumn != "" {
		out[def.UpdatedColumn] = stamp
	}
	return out, nil
}

// PreparePatch validates patch columns and stamps the update time.
func PreparePatch(def TableDef, patch map[string]any, now time.Time) (map[string]any, error) {
	out := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		if k == "id" || !def.HasColumn(k) {
			return nil, fmt.Errorf("%w: %s.%s", ErrBadField, def.Name, k)
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		out[k] = v
	}
	if def.UpdatedColumn != "" {
		out[def.UpdatedColumn] = now.UTC().Format(time.RFC3339Nano)
	}
	return out, nil
}

// CheckQuery rejects filters or ordering on columns the table doesn't have.
func CheckQuery(def TableDef, filters []Filter, order Order) error {
	for _, f := range filters {
		if !def.HasColumn(f.Field) {
			return fmt.Errorf("%w: %s.%s", ErrBadField, def.Name, f.Field)
		}
	}
	if order.Field != "" && !def.HasColumn(order.Field) {
		return fmt.Errorf("%w: %s.%s", ErrBadField, def.Name, order.Field)
	}
	return nil
}

func missingTime(v any) bool {
	s, ok := v.(string)
	return !ok || s == "" || s == zeroTime
}
