// Package postgres is the PostgreSQL store backend. Rows move in and out as
// JSON through json_populate_record and row_to_json, and table triggers
// publish changes on "<table>_changes" channels.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"eyeworks-storefront/internal/store"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Backend struct {
	db  *sql.DB
	dsn string
	now func() time.Time
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Backend{db: db, dsn: dsn, now: time.Now}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (b *Backend) Insert(ctx context.Context, table string, row any) (store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	rec, err := store.Prepare(def, row, b.now())
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`INSERT INTO %s AS t SELECT * FROM json_populate_record(NULL::%s, $1::json) RETURNING row_to_json(t)`,
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(table))
	var out []byte
	if err := b.db.QueryRowContext(ctx, q, string(payload)).Scan(&out); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert %s: %w", table, store.ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert %s: %w", table, err)
	}
	return out, nil
}

func (b *Backend) Upsert(ctx context.Context, table, conflictField string, row any) (store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if !def.HasColumn(conflictField) {
		return nil, fmt.Errorf("%w: %s.%s", store.ErrBadField, table, conflictField)
	}
	rec, err := store.Prepare(def, row, b.now())
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`INSERT INTO %s AS t SELECT * FROM json_populate_record(NULL::%s, $1::json)
		ON CONFLICT (%s) DO NOTHING RETURNING row_to_json(t)`,
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(table), pq.QuoteIdentifier(conflictField))
	var out []byte
	err = b.db.QueryRowContext(ctx, q, string(payload)).Scan(&out)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		rows, err := b.Select(ctx, table, store.Query{
			Filters: []store.Filter{store.Eq(conflictField, rec[conflictField])},
			Limit:   1,
		})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, store.ErrNotFound
		}
		return rows[0], nil
	default:
		return nil, fmt.Errorf("failed to upsert %s: %w", table, err)
	}
}

// where renders filters as a WHERE clause. Columns have already been
// checked against the table definition.
func where(filters []store.Filter, args []any) (string, []any) {
	if len(filters) == 0 {
		return "", args
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		col := pq.QuoteIdentifier(f.Field)
		switch f.Op {
		case store.OpEq:
			args = append(args, param(f.Value))
			parts = append(parts, fmt.Sprintf("%s = $%d", col, len(args)))
		case store.OpIn:
			var values []string
			if vs, ok := f.Value.([]any); ok {
				for _, v := range vs {
					values = append(values, fmt.Sprint(v))
				}
			}
			args = append(args, pq.Array(values))
			parts = append(parts, fmt.Sprintf("%s::text = ANY($%d)", col, len(args)))
		case store.OpGte:
			args = append(args, param(f.Value))
			parts = append(parts, fmt.Sprintf("%s >= $%d", col, len(args)))
		case store.OpLte:
			args = append(args, param(f.Value))
			parts = append(parts, fmt.Sprintf("%s <= $%d", col, len(args)))
		case store.OpContains:
			args = append(args, "%"+escapeLike(fmt.Sprint(f.Value))+"%")
			parts = append(parts, fmt.Sprintf("%s ILIKE $%d", col, len(args)))
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func param(v any) any {
	switch x := v.(type) {
	case string, bool, int, int64, float64, time.Time, nil:
		return x
	case fmt.Stringer:
		return x.String()
	case map[string]any, []any:
		data, _ := json.Marshal(x)
		return string(data)
	}
	return fmt.Sprint(v)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (b *Backend) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := store.CheckQuery(def, q.Filters, q.Order); err != nil {
		return nil, err
	}

	clause, args := where(q.Filters, nil)
	stmt := fmt.Sprintf(`SELECT row_to_json(t) FROM %s t%s`, pq.QuoteIdentifier(table), clause)
	if q.Order.Field != "" {
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		stmt += fmt.Sprintf(" ORDER BY %s %s", pq.QuoteIdentifier(q.Order.Field), dir)
	}
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := b.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]store.Row, error) {
	defer rows.Close()
	var out []store.Row
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (b *Backend) Update(ctx context.Context, table string, filters []store.Filter, patch map[string]any) ([]store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := store.CheckQuery(def, filters, store.Order{}); err != nil {
		return nil, err
	}
	clean, err := store.PreparePatch(def, patch, b.now())
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(clean))
	for k := range clean {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	var args []any
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		args = append(args, param(clean[c]))
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), len(args)))
	}
	clause, args := where(filters, args)
	stmt := fmt.Sprintf(`UPDATE %s AS t SET %s%s RETURNING row_to_json(t)`,
		pq.QuoteIdentifier(table), strings.Join(sets, ", "), clause)

	rows, err := b.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return scanRows(rows)
}

func (b *Backend) Delete(ctx context.Context, table, id string) error {
	if _, err := store.Lookup(table); err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pq.QuoteIdentifier(table)), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Watch listens on the table's notification channel. Notifications carry
// only the row id, so inserts and updates are followed by a fetch.
func (b *Backend) Watch(ctx context.Context, table string, onChange func(store.Change), onStatus func(bool)) (store.Subscription, error) {
	if _, err := store.Lookup(table); err != nil {
		return nil, err
	}

	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected, pq.ListenerEventReconnected:
			if onStatus != nil {
				onStatus(true)
			}
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			if err != nil {
				log.Warn().Err(err).Str("table", table).Msg("change listener disconnected")
			}
			if onStatus != nil {
				onStatus(false)
			}
		}
	}
	listener := pq.NewListener(b.dsn, time.Second, time.Minute, report)
	if err := listener.Listen(table + "_changes"); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", table, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					// Reconnected; events may have been missed.
					continue
				}
				b.dispatch(ctx, n.Extra, onChange)
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()
	return &subscription{cancel: cancel}, nil
}

func (b *Backend) dispatch(ctx context.Context, payload string, onChange func(store.Change)) {
	var c store.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("skipping malformed notification")
		return
	}
	if c.Type != store.EventDelete {
		rows, err := b.Select(ctx, c.Table, store.Query{Filters: []store.Filter{store.Eq("id", c.ID)}, Limit: 1})
		if err != nil {
			log.Warn().Err(err).Str("table", c.Table).Str("id", c.ID).Msg("failed to fetch changed row")
			return
		}
		if len(rows) == 0 {
			// Deleted before we got to it; the delete notification follows.
			return
		}
		c.Row = rows[0]
	}
	onChange(c)
}

func (b *Backend) Close() error {
	return b.db.Close()
}

type subscription struct {
	cancel context.CancelFunc
}

func (s *subscription) Close() error {
	s.cancel()
	return nil
}
