package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareDropsUnknownColumnsAndStamps(t *testing.T) {
	def, err := Lookup(TableChatSessions)
	require.NoError(t, err)
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	rec, err := Prepare(def, map[string]any{
		"session_id": "s1",
		"bogus":      true,
		"created_at": "0001-01-01T00:00:00Z",
	}, now)
	require.NoError(t, err)

	assert.NotContains(t, rec, "bogus")
	assert.NotEmpty(t, rec["id"])
	assert.Equal(t, "2026-02-03T04:05:06Z", rec["created_at"])
	assert.Equal(t, "2026-02-03T04:05:06Z", rec["updated_at"])
}

func TestPreparePatchRejectsUnknownColumns(t *testing.T) {
	def, err := Lookup(TableAppointments)
	require.NoError(t, err)

	_, err = PreparePatch(def, map[string]any{"id": "x"}, time.Now())
	assert.ErrorIs(t, err, ErrBadField)
	_, err = PreparePatch(def, map[string]any{"colour": "red"}, time.Now())
	assert.ErrorIs(t, err, ErrBadField)

	patch, err := PreparePatch(def, map[string]any{"status": "Scheduled"}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, patch, "updated_at")
}

func TestLookupUnknownTable(t *testing.T) {
	_, err := Lookup("users")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestMatch(t *testing.T) {
	row := map[string]any{
		"session_id": "s1",
		"role":       "assistant",
		"is_read":    false,
		"stock":      float64(4),
		"category":   "Optical Frames",
		"time":       "2026-04-10T09:30:00Z",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq string", Eq("session_id", "s1"), true},
		{"eq mismatch", Eq("session_id", "s2"), false},
		{"eq bool", Eq("is_read", false), true},
		{"in", In("role", "assistant", "staff"), true},
		{"in miss", In("role", "visitor"), false},
		{"gte number", Gte("stock", 4), true},
		{"lte number", Lte("stock", 3), false},
		{"gte time", Gte("time", time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)), true},
		{"lte time", Lte("time", time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)), false},
		{"contains ignores case", Contains("category", "optical"), true},
		{"missing field", Gte("price", 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(row, []Filter{tt.filter}))
		})
	}
}

func TestSortRowsByTime(t *testing.T) {
	rows := []map[string]any{
		{"id": "b", "created_at": "2026-01-01T10:00:00.5Z"},
		{"id": "a", "created_at": "2026-01-01T10:00:00Z"},
		{"id": "c", "created_at": "2026-01-02T00:00:00Z"},
	}
	SortRows(rows, Order{Field: "created_at", Desc: true})
	assert.Equal(t, "c", rows[0]["id"])
	assert.Equal(t, "b", rows[1]["id"])
	assert.Equal(t, "a", rows[2]["id"])
}

func TestNewIDIsOrdered(t *testing.T) {
	now := time.Now()
	a := NewID(now)
	b := NewID(now)
	assert.Less(t, a, b)
	assert.Len(t, a, 26)
}
