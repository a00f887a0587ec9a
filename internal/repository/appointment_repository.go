package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/store"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a domain.Appointment) (domain.Appointment, error)
	List(ctx context.Context) ([]domain.Appointment, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.Appointment, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Appointment, error)
	Delete(ctx context.Context, id string) error
	Source() collection.Source[domain.Appointment]
}

type appointmentRepository struct {
	table  *store.Table[domain.Appointment]
	source *tableSource[domain.Appointment]
}

func NewAppointmentRepository(backend store.Backend, broker *realtime.Broker) AppointmentRepository {
	table := store.NewTable[domain.Appointment](backend, store.TableAppointments)
	return &appointmentRepository{
		table:  table,
		source: newTableSource(table, broker, "", store.Order{Field: "time"}),
	}
}

func (r *appointmentRepository) Create(ctx context.Context, a domain.Appointment) (domain.Appointment, error) {
	a.ID = ""
	saved, err := r.table.Insert(ctx, a)
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("failed to create appointment: %w", err)
	}
	return saved, nil
}

func (r *appointmentRepository) List(ctx context.Context) ([]domain.Appointment, error) {
	return r.source.Load(ctx, "")
}

// ListBetween returns appointments with from <= time <= to.
func (r *appointmentRepository) ListBetween(ctx context.Context, from, to time.Time) ([]domain.Appointment, error) {
	items, err := r.table.Select(ctx, store.Query{
		Filters: []store.Filter{store.Gte("time", from), store.Lte("time", to)},
		Order:   store.Order{Field: "time"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return items, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id, status string) (domain.Appointment, error) {
	a, err := r.table.UpdateByID(ctx, id, map[string]any{"status": status})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, ErrAppointmentNotFound
		}
		return domain.Appointment{}, fmt.Errorf("failed to update appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepository) Delete(ctx context.Context, id string) error {
	if err := r.table.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Source() collection.Source[domain.Appointment] {
	return r.source
}
