package service

import (
	"context"
	"testing"
	"time"

	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/repository"
	"eyeworks-storefront/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBook(t *testing.T) (*AppointmentBook, repository.AppointmentRepository) {
	t.Helper()
	backend := memory.New()
	broker := realtime.NewBroker(backend)
	t.Cleanup(func() { broker.Close() })

	repo := repository.NewAppointmentRepository(backend, broker)
	book := NewAppointmentBook(repo, time.UTC)
	t.Cleanup(func() { book.Close() })
	require.NoError(t, book.Start(context.Background()))
	return book, repo
}

func tomorrow() string {
	return time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
}

func TestAppointmentBook_Request(t *testing.T) {
	book, _ := newTestBook(t)

	a, err := book.Request(context.Background(), domain.AppointmentRequest{
		Name:    "  Ana Cruz ",
		Phone:   "(555) 123-4567",
		Email:   "ana@example.com",
		Date:    tomorrow(),
		Service: "Eye Exam",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "Ana Cruz", a.Name)
	assert.Equal(t, domain.AppointmentPending, a.Status)
	assert.Equal(t, domain.RequestSourceWebsite, a.RequestSource)
	assert.Equal(t, "Eye Exam", a.AppointmentType)

	require.Eventually(t, func() bool { return len(book.List()) == 1 }, time.Second, 5*time.Millisecond)
	list := book.List()
	assert.Equal(t, a.ID, list[0].ID)
}

func TestAppointmentBook_RequestValidation(t *testing.T) {
	book, _ := newTestBook(t)

	tests := []struct {
		name  string
		req   domain.AppointmentRequest
		field string
	}{
		{"missing name", domain.AppointmentRequest{Phone: "5551234567", Date: tomorrow()}, "Name"},
		{"short name", domain.AppointmentRequest{Name: "A", Phone: "5551234567", Date: tomorrow()}, "Name"},
		{"bad phone", domain.AppointmentRequest{Name: "Ana", Phone: "12ab", Date: tomorrow()}, "Phone"},
		{"bad email", domain.AppointmentRequest{Name: "Ana", Phone: "5551234567", Email: "nope", Date: tomorrow()}, "Email"},
		{"past date", domain.AppointmentRequest{Name: "Ana", Phone: "5551234567", Date: "2020-01-01"}, "Date"},
		{"unparseable date", domain.AppointmentRequest{Name: "Ana", Phone: "5551234567", Date: "next week"}, "Date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := book.Request(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
	assert.Empty(t, book.List())
}

func TestAppointmentBook_UpdateStatusAndDelete(t *testing.T) {
	book, _ := newTestBook(t)
	ctx := context.Background()

	a, err := book.Request(ctx, domain.AppointmentRequest{Name: "Ana", Phone: "5551234567", Date: tomorrow()})
	require.NoError(t, err)

	_, err = book.UpdateStatus(ctx, a.ID, "Maybe")
	assert.ErrorIs(t, err, ErrValidation)

	updated, err := book.UpdateStatus(ctx, a.ID, domain.AppointmentScheduled)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentScheduled, updated.Status)
	require.Len(t, book.List(), 1)
	assert.Equal(t, domain.AppointmentScheduled, book.List()[0].Status)

	_, err = book.UpdateStatus(ctx, "missing", domain.AppointmentCompleted)
	assert.ErrorIs(t, err, repository.ErrAppointmentNotFound)

	require.NoError(t, book.Delete(ctx, a.ID))
	assert.Empty(t, book.List())
	assert.ErrorIs(t, book.Delete(ctx, a.ID), repository.ErrAppointmentNotFound)
}

func TestAppointmentBook_OrderedByTime(t *testing.T) {
	book, repo := newTestBook(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(48 * time.Hour)

	for _, h := range []int{3, 1, 2} {
		_, err := repo.Create(ctx, domain.Appointment{
			Name:   "Visitor",
			Phone:  "5551234567",
			Time:   base.Add(time.Duration(h) * time.Hour),
			Status: domain.AppointmentPending,
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(book.List()) == 3 }, time.Second, 5*time.Millisecond)
	list := book.List()
	assert.True(t, list[0].Time.Before(list[1].Time))
	assert.True(t, list[1].Time.Before(list[2].Time))
}

func TestAppointmentBook_ListByDate(t *testing.T) {
	book, repo := newTestBook(t)
	ctx := context.Background()
	day := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{
		day.Add(9 * time.Hour),
		day.Add(16 * time.Hour),
		day.Add(-time.Minute),
		day.AddDate(0, 0, 1),
	} {
		_, err := repo.Create(ctx, domain.Appointment{Name: "Visitor", Phone: "5551234567", Time: at})
		require.NoError(t, err)
	}

	got, err := book.ListByDate(ctx, day.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 9, got[0].Time.Hour())
	assert.Equal(t, 16, got[1].Time.Hour())
}

func TestParseAppointmentDate(t *testing.T) {
	loc := time.FixedZone("PHT", 8*3600)

	got, err := ParseAppointmentDate("2026-11-02", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 11, 2, 0, 0, 0, 0, loc)))

	got, err = ParseAppointmentDate("2026-11-02T14:30", loc)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())

	got, err = ParseAppointmentDate("2026-11-02T14:30:00Z", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 11, 2, 14, 30, 0, 0, time.UTC)))

	_, err = ParseAppointmentDate("02/11/2026", loc)
	assert.Error(t, err)
}

func TestValidPhone(t *testing.T) {
	for _, p := range []string{"5551234567", "(555) 123-4567", "+639171234567", "555.123.4567"} {
		assert.True(t, ValidPhone(p), p)
	}
	for _, p := range []string{"", "12345", "phone", "555-123"} {
		assert.False(t, ValidPhone(p), p)
	}
}
