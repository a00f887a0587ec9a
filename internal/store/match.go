package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Match reports whether a decoded row satisfies every filter. Backends that
// evaluate queries in process share it.
func Match(row map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(row[f.Field], f) {
			return false
		}
	}
	return true
}

func matchOne(v any, f Filter) bool {
	switch f.Op {
	case OpEq:
		return Compare(v, f.Value) == 0
	case OpIn:
		for _, want := range toSlice(f.Value) {
			if Compare(v, want) == 0 {
				return true
			}
		}
		return false
	case OpGte:
		return v != nil && Compare(v, f.Value) >= 0
	case OpLte:
		return v != nil && Compare(v, f.Value) <= 0
	case OpContains:
		s, ok := v.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(fmt.Sprint(f.Value)))
	}
	return false
}

// Compare orders two JSON-ish values. Numbers compare numerically, strings
// that parse as RFC 3339 times compare chronologically, everything else by
// its string form. nil sorts first.
func Compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}

	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	return strings.Compare(as, bs)
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

func toSlice(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

// SortRows orders decoded rows by one field. Ties keep their input order.
func SortRows(rows []map[string]any, order Order) {
	if order.Field == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := Compare(rows[i][order.Field], rows[j][order.Field])
		if order.Desc {
			return c > 0
		}
		return c < 0
	})
}

// Encode marshals decoded rows back to JSON, applying the query limit.
func Encode(rows []map[string]any, limit int) ([]Row, error) {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
