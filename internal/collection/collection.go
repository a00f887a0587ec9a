// Package collection keeps an ordered, in-memory view of one scope of a
// remote table consistent with local optimistic writes and the table's
// change feed.
//
// A Collection is loaded once, subscribed to change events, and written to
// through InsertOptimistic followed by Confirm. Echoes of local writes that
// arrive through the feed are recognised either by an exact client
// reference or, failing that, by a similarity check inside a short time
// window, so a write never shows up twice.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultWindow = 5 * time.Second

type Origin int

const (
	Pending Origin = iota
	Confirmed
	Remote
)

func (o Origin) String() string {
	switch o {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Remote:
		return "remote"
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

type Subscription interface {
	Close() error
}

// Event is one change delivered by a Source subscription.
type Event[T any] struct {
	Deleted bool
	ID      string
	Item    T
}

// Source is the remote side of a collection.
type Source[T any] interface {
	Load(ctx context.Context, groupKey string) ([]T, error)
	Subscribe(ctx context.Context, groupKey string, onEvent func(Event[T]), onStatus func(bool)) (Subscription, error)
}

// Schema tells a collection how to read its items.
type Schema[T any] struct {
	ID     func(T) string
	WithID func(T, string) T
	// GroupKey is nil for store-wide collections.
	GroupKey  func(T) string
	Timestamp func(T) time.Time
	// ClientRef returns the idempotency key a local write carried, if any.
	ClientRef func(T) string
	// Similar reports whether two items would look identical to a user.
	// Nil disables heuristic duplicate detection.
	Similar func(a, b T) bool
	Window  time.Duration
}

type Entry[T any] struct {
	ID     string
	Item   T
	Origin Origin
	seq    uint64
}

type State[T any] struct {
	Items       []T
	IsLoading   bool
	IsConnected bool
	Err         error
}

type Option func(*options)

type options struct {
	name   string
	reload bool
	now    func() time.Time
}

// WithReloadOnChange makes every change event trigger a full reload of the
// bound scope instead of an incremental merge.
func WithReloadOnChange() Option {
	return func(o *options) { o.reload = true }
}

func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type Collection[T any] struct {
	schema Schema[T]
	source Source[T]
	opts   options

	mu        sync.Mutex
	entries   []*Entry[T]
	scope     string
	loadGen   uint64
	subGen    uint64
	subCtx    context.Context
	sub       Subscription
	loading   bool
	connected bool
	err       error
	seq       uint64
	tempSeq   uint64
	aliases   map[string]string
	listeners map[int]func(State[T])
	nextLis   int
	closed    bool
}

func New[T any](schema Schema[T], source Source[T], opts ...Option) *Collection[T] {
	o := options{name: "collection", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if schema.Window <= 0 {
		schema.Window = DefaultWindow
	}
	return &Collection[T]{
		schema:    schema,
		source:    source,
		opts:      o,
		aliases:   make(map[string]string),
		listeners: make(map[int]func(State[T])),
	}
}

// Load binds the collection to groupKey and replaces its contents with the
// source's rows. On failure the collection is left empty with the error
// recorded in State.
func (c *Collection[T]) Load(ctx context.Context, groupKey string) ([]T, error) {
	c.mu.Lock()
	c.loadGen++
	gen := c.loadGen
	if c.scope != groupKey {
		c.entries = nil
	}
	c.scope = groupKey
	c.loading = true
	c.err = nil
	c.mu.Unlock()
	c.emit()

	items, err := c.source.Load(ctx, groupKey)

	c.mu.Lock()
	if gen != c.loadGen || c.scope != groupKey {
		c.mu.Unlock()
		return nil, ErrStaleScope
	}
	c.loading = false
	if err != nil {
		c.entries = nil
		c.err = &LoadError{Scope: groupKey, Err: err}
		loadErr := c.err
		c.mu.Unlock()
		log.Error().Err(err).Str("collection", c.opts.name).Str("scope", groupKey).Msg("load failed")
		c.emit()
		return nil, loadErr
	}

	c.entries = make([]*Entry[T], 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		id := c.schema.ID(it)
		if seen[id] {
			continue
		}
		seen[id] = true
		c.seq++
		c.entries = append(c.entries, &Entry[T]{ID: id, Item: it, Origin: Remote, seq: c.seq})
	}
	c.sortLocked()
	out := c.itemsLocked()
	c.mu.Unlock()
	c.emit()
	return out, nil
}

// Subscribe attaches the collection to the source's change feed for
// groupKey, replacing any earlier subscription. onItem runs after an item
// was merged; onStatus after the connection state changed. Both may be nil.
func (c *Collection[T]) Subscribe(ctx context.Context, groupKey string, onItem func(T), onStatus func(bool)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("subscribe %q: collection closed", groupKey)
	}
	old := c.sub
	c.sub = nil
	c.subGen++
	gen := c.subGen
	rebound := c.scope != groupKey
	if rebound {
		// Rows of the previous scope must not survive, and a load still
		// running for it is now stale.
		c.entries = nil
		c.loadGen++
		c.loading = false
		c.err = nil
	}
	c.scope = groupKey
	c.subCtx = ctx
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if rebound {
		c.emit()
	}

	sub, err := c.source.Subscribe(ctx, groupKey,
		func(ev Event[T]) { c.handleEvent(gen, ev, onItem) },
		func(connected bool) { c.handleStatus(gen, connected, onStatus) },
	)

	c.mu.Lock()
	if gen != c.subGen || c.closed {
		c.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return ErrStaleScope
	}
	if err != nil {
		c.connected = false
		c.err = &SubscriptionError{Scope: groupKey, Err: err}
		subErr := c.err
		c.mu.Unlock()
		log.Error().Err(err).Str("collection", c.opts.name).Str("scope", groupKey).Msg("subscribe failed")
		c.emit()
		return subErr
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

func (c *Collection[T]) handleEvent(gen uint64, ev Event[T], onItem func(T)) {
	c.mu.Lock()
	if c.closed || gen != c.subGen {
		c.mu.Unlock()
		return
	}
	if c.opts.reload {
		ctx, scope := c.subCtx, c.scope
		c.mu.Unlock()
		if _, err := c.Load(ctx, scope); err != nil && !errors.Is(err, ErrStaleScope) {
			log.Warn().Err(err).Str("collection", c.opts.name).Msg("reload after change failed")
		}
		return
	}

	if ev.Deleted {
		changed := c.removeLocked(ev.ID)
		c.mu.Unlock()
		if changed {
			c.emit()
		}
		return
	}

	if c.schema.GroupKey != nil && c.schema.GroupKey(ev.Item) != c.scope {
		c.mu.Unlock()
		return
	}
	changed := c.mergeLocked(ev.Item)
	c.mu.Unlock()

	if changed {
		c.emit()
		if onItem != nil {
			onItem(ev.Item)
		}
	}
}

func (c *Collection[T]) handleStatus(gen uint64, connected bool, onStatus func(bool)) {
	c.mu.Lock()
	if c.closed || gen != c.subGen {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	c.mu.Unlock()
	c.emit()
	if onStatus != nil {
		onStatus(connected)
	}
}

const localPrefix = "temp_"

// IsLocalID reports whether id is a placeholder that no store has seen.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}

// InsertOptimistic shows v immediately under a local placeholder id and
// returns that id.
func (c *Collection[T]) InsertOptimistic(v T) string {
	c.mu.Lock()
	c.tempSeq++
	id := fmt.Sprintf(localPrefix+"%d_%d", c.opts.now().UnixMilli(), c.tempSeq)
	c.seq++
	c.entries = append(c.entries, &Entry[T]{
		ID:     id,
		Item:   c.schema.WithID(v, id),
		Origin: Pending,
		seq:    c.seq,
	})
	c.sortLocked()
	c.mu.Unlock()
	c.emit()
	return id
}

// Confirm performs the write behind a placeholder. On success the
// placeholder is replaced by the stored row, keeping its position among
// equal timestamps; on failure it is removed and a *WriteError returned.
func (c *Collection[T]) Confirm(ctx context.Context, localID string, write func(context.Context) (T, error)) (T, error) {
	saved, err := write(ctx)

	c.mu.Lock()
	if err != nil {
		c.removeLocked(localID)
		c.mu.Unlock()
		log.Warn().Err(err).Str("collection", c.opts.name).Str("local_id", localID).Msg("write rejected")
		c.emit()
		var zero T
		return zero, &WriteError{LocalID: localID, Err: err}
	}

	serverID := c.schema.ID(saved)
	c.aliases[localID] = serverID
	placeholder := c.indexLocked(localID)
	existing := c.indexLocked(serverID)

	switch {
	case placeholder >= 0:
		e := c.entries[placeholder]
		if existing >= 0 {
			// The feed delivered the row before the write returned.
			c.entries = append(c.entries[:existing], c.entries[existing+1:]...)
		}
		e.ID, e.Item, e.Origin = serverID, saved, Confirmed
	case existing >= 0:
		e := c.entries[existing]
		e.Item, e.Origin = saved, Confirmed
	case c.inScopeLocked(saved):
		c.seq++
		c.entries = append(c.entries, &Entry[T]{ID: serverID, Item: saved, Origin: Confirmed, seq: c.seq})
	}
	c.sortLocked()
	c.mu.Unlock()
	c.emit()
	return saved, nil
}

// MergeRemote applies an item that arrived from outside this collection's
// own writes. It reports whether the collection changed.
func (c *Collection[T]) MergeRemote(v T) bool {
	c.mu.Lock()
	changed := c.mergeLocked(v)
	c.mu.Unlock()
	if changed {
		c.emit()
	}
	return changed
}

func (c *Collection[T]) mergeLocked(v T) bool {
	id := c.schema.ID(v)
	if i := c.indexLocked(id); i >= 0 {
		c.entries[i].Item = v
		c.sortLocked()
		return true
	}

	ref := c.clientRef(v)
	if ref != "" {
		for _, e := range c.entries {
			if e.Origin == Pending && c.clientRef(e.Item) == ref {
				c.aliases[e.ID] = id
				e.ID, e.Item, e.Origin = id, v, Confirmed
				c.sortLocked()
				return true
			}
		}
	}

	if c.schema.Similar != nil {
		at := c.schema.Timestamp(v)
		for _, e := range c.entries {
			if e.Origin == Remote {
				continue
			}
			if ref != "" && c.clientRef(e.Item) != "" {
				// Both sides carry a reference and they differ.
				continue
			}
			if c.schema.Similar(e.Item, v) && within(c.schema.Timestamp(e.Item), at, c.schema.Window) {
				return false
			}
		}
	}

	c.seq++
	c.entries = append(c.entries, &Entry[T]{ID: id, Item: v, Origin: Remote, seq: c.seq})
	c.sortLocked()
	return true
}

func (c *Collection[T]) clientRef(v T) string {
	if c.schema.ClientRef == nil {
		return ""
	}
	return c.schema.ClientRef(v)
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Remove drops the entry with id, resolving placeholder ids that were
// already confirmed.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	changed := c.removeLocked(id)
	c.mu.Unlock()
	if changed {
		c.emit()
	}
	return changed
}

func (c *Collection[T]) removeLocked(id string) bool {
	i := c.indexLocked(id)
	if i < 0 {
		if alias, ok := c.aliases[id]; ok {
			i = c.indexLocked(alias)
		}
	}
	if i < 0 {
		return false
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return true
}

// Update replaces the item with id by fn's result. The entry keeps its id.
func (c *Collection[T]) Update(id string, fn func(T) T) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	e := c.entries[i]
	e.Item = c.schema.WithID(fn(e.Item), e.ID)
	c.sortLocked()
	c.mu.Unlock()
	c.emit()
	return true
}

// Clear empties the local view without touching the source.
func (c *Collection[T]) Clear() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	c.emit()
}

func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemsLocked()
}

func (c *Collection[T]) Entries() []Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry[T], len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}

func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Collection[T]) Scope() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

func (c *Collection[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// OnChange registers fn to receive a snapshot after every change. The
// returned func unregisters it.
func (c *Collection[T]) OnChange(fn func(State[T])) func() {
	c.mu.Lock()
	c.nextLis++
	id := c.nextLis
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close ends the subscription. Late events are ignored afterwards.
func (c *Collection[T]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.connected = false
	c.listeners = make(map[int]func(State[T]))
	c.mu.Unlock()
	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (c *Collection[T]) emit() {
	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	st := c.stateLocked()
	fns := make([]func(State[T]), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (c *Collection[T]) stateLocked() State[T] {
	return State[T]{
		Items:       c.itemsLocked(),
		IsLoading:   c.loading,
		IsConnected: c.connected,
		Err:         c.err,
	}
}

func (c *Collection[T]) itemsLocked() []T {
	out := make([]T, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Item
	}
	return out
}

func (c *Collection[T]) indexLocked(id string) int {
	for i, e := range c.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection[T]) inScopeLocked(v T) bool {
	return c.schema.GroupKey == nil || c.schema.GroupKey(v) == c.scope
}

func (c *Collection[T]) sortLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i], c.entries[j]
		ta, tb := c.schema.Timestamp(a.Item), c.schema.Timestamp(b.Item)
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.seq < b.seq
	})
}
