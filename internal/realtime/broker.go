// Package realtime multiplexes store change feeds. A Broker keeps at most
// one backend watch per table open and fans its events out to in-process
// subscribers.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"eyeworks-storefront/internal/store"

	"github.com/rs/zerolog/log"
)

// Filter narrows a subscription to rows whose Field equals Value. The zero
// Filter matches every row. Deletes carry no row and always pass.
type Filter struct {
	Field string
	Value string
}

func (f Filter) Matches(c store.Change) bool {
	if f.Field == "" || c.Type == store.EventDelete {
		return true
	}
	v, ok := c.Field(f.Field)
	return ok && fmt.Sprint(v) == f.Value
}

type subscriber struct {
	filter   Filter
	onChange func(store.Change)
	onStatus func(bool)
}

type feed struct {
	table     string
	sub       store.Subscription
	subs      map[int]*subscriber
	connected bool
	known     bool
	ready     chan struct{}
	err       error
}

type Broker struct {
	watcher store.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	feeds  map[string]*feed
	nextID int
}

func NewBroker(watcher store.Watcher) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
		feeds:   make(map[string]*feed),
	}
}

// Subscribe registers a listener for table. The backend watch is opened on
// the first subscriber and closed when the last one leaves.
func (b *Broker) Subscribe(table string, filter Filter, onChange func(store.Change), onStatus func(bool)) (store.Subscription, error) {
	b.mu.Lock()
	f, ok := b.feeds[table]
	if !ok {
		f = &feed{table: table, subs: make(map[int]*subscriber), ready: make(chan struct{})}
		b.feeds[table] = f
	}
	b.nextID++
	id := b.nextID
	f.subs[id] = &subscriber{filter: filter, onChange: onChange, onStatus: onStatus}
	b.mu.Unlock()

	if !ok {
		// The backend may report status from inside Watch, so the lock is
		// not held here.
		sub, err := b.watcher.Watch(b.ctx, table,
			func(c store.Change) { b.deliver(f, c) },
			func(connected bool) { b.setStatus(f, connected) },
		)
		b.mu.Lock()
		f.sub, f.err = sub, err
		if err != nil && b.feeds[table] == f {
			delete(b.feeds, table)
		}
		b.mu.Unlock()
		close(f.ready)
		if err == nil {
			log.Debug().Str("table", table).Msg("opened change feed")
		}
	}
	<-f.ready

	if f.err != nil {
		b.mu.Lock()
		delete(f.subs, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to watch %s: %w", table, f.err)
	}

	b.mu.Lock()
	known, connected := f.known, f.connected
	b.mu.Unlock()
	if known && onStatus != nil {
		onStatus(connected)
	}
	return &handle{close: func() { b.unsubscribe(f, id) }}, nil
}

func (b *Broker) unsubscribe(f *feed, id int) {
	b.mu.Lock()
	delete(f.subs, id)
	var sub store.Subscription
	if len(f.subs) == 0 && b.feeds[f.table] == f {
		delete(b.feeds, f.table)
		sub = f.sub
	}
	b.mu.Unlock()

	if sub != nil {
		sub.Close()
		log.Debug().Str("table", f.table).Msg("closed change feed")
	}
}

func (b *Broker) deliver(f *feed, c store.Change) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		if s.filter.Matches(c) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.onChange(c)
	}
}

func (b *Broker) setStatus(f *feed, connected bool) {
	b.mu.Lock()
	f.known, f.connected = true, connected
	targets := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		if s.onStatus != nil {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.onStatus(connected)
	}
}

// Connected reports the last known status of table's feed.
func (b *Broker) Connected(table string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.feeds[table]
	return ok && f.connected
}

func (b *Broker) Close() error {
	b.cancel()
	b.mu.Lock()
	feeds := b.feeds
	b.feeds = make(map[string]*feed)
	b.mu.Unlock()
	for _, f := range feeds {
		if f.sub != nil {
			f.sub.Close()
		}
	}
	return nil
}

type handle struct {
	once  sync.Once
	close func()
}

func (h *handle) Close() error {
	h.once.Do(h.close)
	return nil
}
