package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// AppointmentBook is the store-wide appointment list, ordered by
// appointment time.
type AppointmentBook struct {
	repo      repository.AppointmentRepository
	coll      *collection.Collection[domain.Appointment]
	validator *validator.Validate
	loc       *time.Location
	now       func() time.Time
}

func NewAppointmentBook(repo repository.AppointmentRepository, loc *time.Location) *AppointmentBook {
	if loc == nil {
		loc = time.Local
	}
	now := func() time.Time { return time.Now().In(loc) }
	return &AppointmentBook{
		repo: repo,
		coll: collection.New(collection.Schema[domain.Appointment]{
			ID:        func(a domain.Appointment) string { return a.ID },
			WithID:    func(a domain.Appointment, id string) domain.Appointment { a.ID = id; return a },
			Timestamp: func(a domain.Appointment) time.Time { return a.Time },
		}, repo.Source(), collection.WithName("appointments"), collection.WithClock(now)),
		validator: NewValidator(now),
		loc:       loc,
		now:       now,
	}
}

// Start loads the list and follows changes until ctx is done.
func (b *AppointmentBook) Start(ctx context.Context) error {
	if _, err := b.coll.Load(ctx, ""); err != nil {
		log.Warn().Err(err).Msg("appointments unavailable")
	}
	return b.coll.Subscribe(ctx, "", nil, nil)
}

func (b *AppointmentBook) Refresh(ctx context.Context) error {
	_, err := b.coll.Load(ctx, "")
	return err
}

// Request validates a booking form and files it as a pending website
// request.
func (b *AppointmentBook) Request(ctx context.Context, req domain.AppointmentRequest) (domain.Appointment, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := b.validator.Struct(req); err != nil {
		return domain.Appointment{}, newValidationError(err)
	}
	when, err := ParseAppointmentDate(req.Date, b.loc)
	if err != nil {
		return domain.Appointment{}, &ValidationError{Fields: map[string]string{"Date": "is invalid"}}
	}

	now := b.now()
	a := domain.Appointment{
		Name:            req.Name,
		Phone:           req.Phone,
		Email:           req.Email,
		Time:            when,
		Status:          domain.AppointmentPending,
		Notes:           req.Notes,
		AppointmentType: req.Service,
		RequestSource:   domain.RequestSourceWebsite,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	localID := b.coll.InsertOptimistic(a)
	saved, err := b.coll.Confirm(ctx, localID, func(ctx context.Context) (domain.Appointment, error) {
		return b.repo.Create(ctx, a)
	})
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("failed to request appointment: %w", err)
	}
	return saved, nil
}

func (b *AppointmentBook) UpdateStatus(ctx context.Context, id, status string) (domain.Appointment, error) {
	if err := b.validator.Struct(domain.UpdateAppointmentStatusRequest{Status: status}); err != nil {
		return domain.Appointment{}, newValidationError(err)
	}
	a, err := b.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return domain.Appointment{}, err
	}
	b.coll.MergeRemote(a)
	return a, nil
}

func (b *AppointmentBook) Delete(ctx context.Context, id string) error {
	if err := b.repo.Delete(ctx, id); err != nil {
		return err
	}
	b.coll.Remove(id)
	return nil
}

func (b *AppointmentBook) List() []domain.Appointment {
	return b.coll.Items()
}

// ListByDate queries the store for appointments on the calendar day of day.
func (b *AppointmentBook) ListByDate(ctx context.Context, day time.Time) ([]domain.Appointment, error) {
	from := startOfDay(day.In(b.loc))
	to := from.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return b.repo.ListBetween(ctx, from, to)
}

func (b *AppointmentBook) State() collection.State[domain.Appointment] {
	return b.coll.State()
}

func (b *AppointmentBook) Close() error {
	return b.coll.Close()
}
