package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Table is a typed view over one backend table.
type Table[T any] struct {
	backend Backend
	name    string
}

func NewTable[T any](backend Backend, name string) *Table[T] {
	return &Table[T]{backend: backend, name: name}
}

func (t *Table[T]) Name() string { return t.name }

func (t *Table[T]) Backend() Backend { return t.backend }

func (t *Table[T]) Insert(ctx context.Context, v T) (T, error) {
	row, err := t.backend.Insert(ctx, t.name, v)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](row)
}

func (t *Table[T]) Upsert(ctx context.Context, conflictField string, v T) (T, error) {
	row, err := t.backend.Upsert(ctx, t.name, conflictField, v)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](row)
}

func (t *Table[T]) Select(ctx context.Context, q Query) ([]T, error) {
	rows, err := t.backend.Select(ctx, t.name, q)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](rows)
}

// Get returns the first row matching filters or ErrNotFound.
func (t *Table[T]) Get(ctx context.Context, filters ...Filter) (T, error) {
	var zero T
	items, err := t.Select(ctx, Query{Filters: filters, Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, ErrNotFound
	}
	return items[0], nil
}

func (t *Table[T]) Update(ctx context.Context, filters []Filter, patch map[string]any) ([]T, error) {
	rows, err := t.backend.Update(ctx, t.name, filters, patch)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](rows)
}

func (t *Table[T]) UpdateByID(ctx context.Context, id string, patch map[string]any) (T, error) {
	var zero T
	items, err := t.Update(ctx, []Filter{Eq("id", id)}, patch)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, ErrNotFound
	}
	return items[0], nil
}

func (t *Table[T]) Delete(ctx context.Context, id string) error {
	return t.backend.Delete(ctx, t.name, id)
}

func Decode[T any](row Row) (T, error) {
	var v T
	if err := json.Unmarshal(row, &v); err != nil {
		return v, fmt.Errorf("decode row: %w", err)
	}
	return v, nil
}

func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
