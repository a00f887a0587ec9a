// Package memory is an in-process store backend with a change feed. It
// backs tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"eyeworks-storefront/internal/store"
)

type Backend struct {
	mu       sync.RWMutex
	tables   map[string]map[string]map[string]any
	order    map[string][]string
	watchers map[int]*watcher
	nextID   int
	online   bool
	now      func() time.Time
}

type watcher struct {
	table    string
	events   chan store.Change
	status   chan bool
	done     chan struct{}
	once     sync.Once
	onChange func(store.Change)
	onStatus func(bool)
}

func New() *Backend {
	return &Backend{
		tables:   make(map[string]map[string]map[string]any),
		order:    make(map[string][]string),
		watchers: make(map[int]*watcher),
		online:   true,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for stamped columns.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// SetOnline simulates losing and regaining the change feed connection.
func (b *Backend) SetOnline(online bool) {
	b.mu.Lock()
	b.online = online
	ws := b.snapshotWatchers("")
	b.mu.Unlock()
	for _, w := range ws {
		w.sendStatus(online)
	}
}

func (b *Backend) Insert(ctx context.Context, table string, row any) (store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	rec, err := store.Prepare(def, row, b.now())
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	id := rec["id"].(string)
	rows := b.rowsLocked(table)
	if _, exists := rows[id]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("insert %s: %w: id %s", table, store.ErrConflict, id)
	}
	for _, field := range def.Unique {
		if b.findLocked(table, field, rec[field]) != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("insert %s: %w: %s", table, store.ErrConflict, field)
		}
	}
	rows[id] = rec
	b.order[table] = append(b.order[table], id)
	out, err := json.Marshal(rec)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.publish(store.Change{Table: table, Type: store.EventInsert, ID: id, Row: out})
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

	b.mu.Lock()
	rec, err := store.Prepare(def, row, b.now())
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if existing := b.findLocked(table, conflictField, rec[conflictField]); existing != nil {
		out, err := json.Marshal(existing)
		b.mu.Unlock()
		return out, err
	}
	b.mu.Unlock()

	out, err := b.Insert(ctx, table, rec)
	if errors.Is(err, store.ErrConflict) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		if existing := b.findLocked(table, conflictField, rec[conflictField]); existing != nil {
			return json.Marshal(existing)
		}
	}
	return out, err
}

func (b *Backend) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := store.CheckQuery(def, q.Filters, q.Order); err != nil {
		return nil, err
	}

	b.mu.RLock()
	var matched []map[string]any
	rows := b.tables[table]
	for _, id := range b.order[table] {
		if rec, ok := rows[id]; ok && store.Match(rec, q.Filters) {
			matched = append(matched, rec)
		}
	}
	b.mu.RUnlock()

	store.SortRows(matched, q.Order)
	return store.Encode(matched, q.Limit)
}

func (b *Backend) Update(ctx context.Context, table string, filters []store.Filter, patch map[string]any) ([]store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := store.CheckQuery(def, filters, store.Order{}); err != nil {
		return nil, err
	}

	b.mu.Lock()
	clean, err := store.PreparePatch(def, patch, b.now())
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	var changes []store.Change
	var out []store.Row
	rows := b.tables[table]
	for _, id := range b.order[table] {
		rec, ok := rows[id]
		if !ok || !store.Match(rec, filters) {
			continue
		}
		next := make(map[string]any, len(rec))
		for k, v := range rec {
			next[k] = v
		}
		for k, v := range clean {
			next[k] = v
		}
		rows[id] = next
		data, err := json.Marshal(next)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		out = append(out, data)
		changes = append(changes, store.Change{Table: table, Type: store.EventUpdate, ID: id, Row: data})
	}
	b.mu.Unlock()

	for _, c := range changes {
		b.publish(c)
	}
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, table, id string) error {
	if _, err := store.Lookup(table); err != nil {
		return err
	}

	b.mu.Lock()
	rows := b.tables[table]
	if _, ok := rows[id]; !ok {
		b.mu.Unlock()
		return store.ErrNotFound
	}
	delete(rows, id)
	order := b.order[table]
	for i, oid := range order {
		if oid == id {
			b.order[table] = append(order[:i:i], order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	b.publish(store.Change{Table: table, Type: store.EventDelete, ID: id})
	return nil
}

// Watch delivers every change of table on a dedicated goroutine until ctx is
// done or the subscription is closed.
func (b *Backend) Watch(ctx context.Context, table string, onChange func(store.Change), onStatus func(bool)) (store.Subscription, error) {
	if _, err := store.Lookup(table); err != nil {
		return nil, err
	}
	w := &watcher{
		table:    table,
		events:   make(chan store.Change, 256),
		status:   make(chan bool, 8),
		done:     make(chan struct{}),
		onChange: onChange,
		onStatus: onStatus,
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.watchers[id] = w
	online := b.online
	b.mu.Unlock()

	sub := &subscription{close: func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
		w.stop()
	}}

	w.sendStatus(online)
	go w.run(ctx, sub)
	return sub, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	ws := b.watchers
	b.watchers = make(map[int]*watcher)
	b.mu.Unlock()
	for _, w := range ws {
		w.stop()
	}
	return nil
}

func (b *Backend) publish(c store.Change) {
	b.mu.RLock()
	online := b.online
	ws := b.snapshotWatchers(c.Table)
	b.mu.RUnlock()
	if !online {
		return
	}
	for _, w := range ws {
		select {
		case w.events <- c:
		case <-w.done:
		}
	}
}

func (b *Backend) snapshotWatchers(table string) []*watcher {
	ws := make([]*watcher, 0, len(b.watchers))
	for _, w := range b.watchers {
		if table == "" || w.table == table {
			ws = append(ws, w)
		}
	}
	return ws
}

func (b *Backend) rowsLocked(table string) map[string]map[string]any {
	rows, ok := b.tables[table]
	if !ok {
		rows = make(map[string]map[string]any)
		b.tables[table] = rows
	}
	return rows
}

func (b *Backend) findLocked(table, field string, value any) map[string]any {
	if value == nil {
		return nil
	}
	for _, id := range b.order[table] {
		rec := b.tables[table][id]
		if store.Compare(rec[field], value) == 0 {
			return rec
		}
	}
	return nil
}

func (w *watcher) run(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case <-w.done:
			return
		case online := <-w.status:
			if w.onStatus != nil {
				w.onStatus(online)
			}
		case c := <-w.events:
			w.onChange(c)
		}
	}
}

func (w *watcher) sendStatus(online bool) {
	select {
	case w.status <- online:
	case <-w.done:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

type subscription struct {
	once  sync.Once
	close func()
}

func (s *subscription) Close() error {
	s.once.Do(s.close)
	return nil
}
