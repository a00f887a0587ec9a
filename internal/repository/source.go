package repository

import (
	"context"
	"errors"
	"fmt"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/store"

	"github.com/rs/zerolog/log"
)

var (
	ErrSessionNotFound     = errors.New("chat session not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrProductNotFound     = errors.New("product not found")
)

// tableSource feeds a collection from one table: Load selects the rows of
// a group, Subscribe follows the table's change feed through the broker.
// An empty groupField makes the source store-wide.
type tableSource[T any] struct {
	table      *store.Table[T]
	broker     *realtime.Broker
	groupField string
	order      store.Order
}

func newTableSource[T any](table *store.Table[T], broker *realtime.Broker, groupField string, order store.Order) *tableSource[T] {
	return &tableSource[T]{table: table, broker: broker, groupField: groupField, order: order}
}

func (s *tableSource[T]) Load(ctx context.Context, groupKey string) ([]T, error) {
	q := store.Query{Order: s.order}
	if s.groupField != "" {
		q.Filters = []store.Filter{store.Eq(s.groupField, groupKey)}
	}
	items, err := s.table.Select(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.table.Name(), err)
	}
	return items, nil
}

func (s *tableSource[T]) Subscribe(ctx context.Context, groupKey string, onEvent func(collection.Event[T]), onStatus func(bool)) (collection.Subscription, error) {
	var filter realtime.Filter
	if s.groupField != "" {
		filter = realtime.Filter{Field: s.groupField, Value: groupKey}
	}

	name := s.table.Name()
	sub, err := s.broker.Subscribe(name, filter, func(c store.Change) {
		if c.Type == store.EventDelete {
			onEvent(collection.Event[T]{Deleted: true, ID: c.ID})
			return
		}
		item, err := store.Decode[T](c.Row)
		if err != nil {
			log.Warn().Err(err).Str("table", name).Str("id", c.ID).Msg("dropping undecodable change")
			return
		}
		onEvent(collection.Event[T]{ID: c.ID, Item: item})
	}, onStatus)
	if err != nil {
		return nil, err
	}

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			sub.Close()
		}()
	}
	return sub, nil
}
