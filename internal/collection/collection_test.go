package collection

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type msg struct {
	ID    string
	Group string
	Text  string
	Ref   string
	At    time.Time
}

var msgSchema = Schema[msg]{
	ID:        func(m msg) string { return m.ID },
	WithID:    func(m msg, id string) msg { m.ID = id; return m },
	GroupKey:  func(m msg) string { return m.Group },
	Timestamp: func(m msg) time.Time { return m.At },
	ClientRef: func(m msg) string { return m.Ref },
	Similar:   func(a, b msg) bool { return a.Text == b.Text },
}

type mockSource struct {
	mu       sync.Mutex
	rows     map[string][]msg
	loadErr  error
	subErr   error
	gates    map[string]chan struct{}
	handlers []func(Event[msg])
	statuses []func(bool)
	loads    int
	opened   int
	closed   int
}

func newMockSource() *mockSource {
	return &mockSource{rows: make(map[string][]msg), gates: make(map[string]chan struct{})}
}

func (s *mockSource) Load(ctx context.Context, groupKey string) ([]msg, error) {
	s.mu.Lock()
	gate := s.gates[groupKey]
	s.loads++
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]msg(nil), s.rows[groupKey]...), nil
}

func (s *mockSource) Subscribe(ctx context.Context, groupKey string, onEvent func(Event[msg]), onStatus func(bool)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return nil, s.subErr
	}
	s.opened++
	s.handlers = append(s.handlers, onEvent)
	s.statuses = append(s.statuses, onStatus)
	return &mockSub{src: s}, nil
}

// broadcast delivers ev to every handler ever subscribed, closed ones
// included, so late deliveries after Close are exercised too.
func (s *mockSource) broadcast(ev Event[msg]) {
	s.mu.Lock()
	fns := append(([]func(Event[msg]))(nil), s.handlers...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *mockSource) push(m msg) {
	s.broadcast(Event[msg]{ID: m.ID, Item: m})
}

func (s *mockSource) pushDelete(id string) {
	s.broadcast(Event[msg]{Deleted: true, ID: id})
}

func (s *mockSource) status(ok bool) {
	s.mu.Lock()
	fns := append(([]func(bool))(nil), s.statuses...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ok)
	}
}

type mockSub struct {
	src  *mockSource
	once sync.Once
}

func (m *mockSub) Close() error {
	m.once.Do(func() {
		m.src.mu.Lock()
		m.src.closed++
		m.src.mu.Unlock()
	})
	return nil
}

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func texts(items []msg) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.Text
	}
	return out
}

func TestLoadOrdersByTimestamp(t *testing.T) {
	src := newMockSource()
	src.rows["s1"] = []msg{
		{ID: "b", Group: "s1", Text: "second", At: at(2)},
		{ID: "a", Group: "s1", Text: "first", At: at(1)},
		{ID: "c", Group: "s1", Text: "third", At: at(3)},
	}
	c := New(msgSchema, src)

	items, err := c.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, texts(items))

	st := c.State()
	assert.False(t, st.IsLoading)
	assert.NoError(t, st.Err)
	assert.Equal(t, "s1", c.Scope())
}

func TestLoadFailureLeavesEmptyCollection(t *testing.T) {
	src := newMockSource()
	src.rows["s1"] = []msg{{ID: "a", Group: "s1", Text: "hi", At: at(1)}}
	c := New(msgSchema, src)
	_, err := c.Load(context.Background(), "s1")
	require.NoError(t, err)

	src.loadErr = errors.New("connection refused")
	_, err = c.Load(context.Background(), "s1")

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "s1", loadErr.Scope)
	assert.Empty(t, c.Items())
	assert.ErrorAs(t, c.State().Err, &loadErr)
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	src := newMockSource()
	src.rows["old"] = []msg{{ID: "o", Group: "old", Text: "old row", At: at(1)}}
	src.rows["new"] = []msg{{ID: "n", Group: "new", Text: "new row", At: at(1)}}
	gate := make(chan struct{})
	src.gates["old"] = gate
	c := New(msgSchema, src)

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "old")
		done <- err
	}()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.loads == 1
	}, time.Second, time.Millisecond)

	_, err := c.Load(context.Background(), "new")
	require.NoError(t, err)
	close(gate)

	assert.ErrorIs(t, <-done, ErrStaleScope)
	assert.Equal(t, []string{"new row"}, texts(c.Items()))
}

func TestInsertOptimisticThenConfirm(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src, WithClock(func() time.Time { return base }))
	_, err := c.Load(context.Background(), "s1")
	require.NoError(t, err)

	localID := c.InsertOptimistic(msg{Group: "s1", Text: "hello", At: at(1)})
	assert.Regexp(t, regexp.MustCompile(`^temp_\d+_\d+$`), localID)
	assert.True(t, IsLocalID(localID))

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Pending, entries[0].Origin)
	assert.Equal(t, localID, entries[0].Item.ID)

	saved, err := c.Confirm(context.Background(), localID, func(context.Context) (msg, error) {
		return msg{ID: "srv-1", Group: "s1", Text: "hello", At: at(1)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID)

	entries = c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "srv-1", entries[0].ID)
	assert.Equal(t, Confirmed, entries[0].Origin)
}

func TestConfirmFailureRemovesPlaceholder(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	_, err := c.Load(context.Background(), "s1")
	require.NoError(t, err)

	localID := c.InsertOptimistic(msg{Group: "s1", Text: "hello", At: at(1)})
	_, err = c.Confirm(context.Background(), localID, func(context.Context) (msg, error) {
		return msg{}, errors.New("insert rejected")
	})

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, localID, writeErr.LocalID)
	assert.Empty(t, c.Items())
}

func TestEchoBeforeConfirmIsNotDuplicated(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	localID := c.InsertOptimistic(msg{Group: "s1", Text: "hello", At: at(1)})
	src.push(msg{ID: "srv-1", Group: "s1", Text: "hello", At: at(1).Add(300 * time.Millisecond)})
	require.Len(t, c.Items(), 1)

	_, err = c.Confirm(ctx, localID, func(context.Context) (msg, error) {
		return msg{ID: "srv-1", Group: "s1", Text: "hello", At: at(1).Add(300 * time.Millisecond)}, nil
	})
	require.NoError(t, err)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "srv-1", items[0].ID)
}

func TestEchoAfterConfirmReplacesInPlace(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	localID := c.InsertOptimistic(msg{Group: "s1", Text: "hello", At: at(1)})
	_, err = c.Confirm(ctx, localID, func(context.Context) (msg, error) {
		return msg{ID: "srv-1", Group: "s1", Text: "hello", At: at(1)}, nil
	})
	require.NoError(t, err)

	src.push(msg{ID: "srv-1", Group: "s1", Text: "hello", At: at(1)})
	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "srv-1", items[0].ID)
}

func TestClientRefAdoptsPendingEntry(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	localID := c.InsertOptimistic(msg{Group: "s1", Text: "hello", Ref: "ref-1", At: at(1)})
	// Echo lands well outside the heuristic window; the reference still matches.
	src.push(msg{ID: "srv-1", Group: "s1", Text: "hello", Ref: "ref-1", At: at(30)})

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "srv-1", entries[0].ID)
	assert.Equal(t, Confirmed, entries[0].Origin)

	_, err = c.Confirm(ctx, localID, func(context.Context) (msg, error) {
		return msg{ID: "srv-1", Group: "s1", Text: "hello", Ref: "ref-1", At: at(30)}, nil
	})
	require.NoError(t, err)
	assert.Len(t, c.Items(), 1)
}

func TestIdenticalSendsWithDistinctRefsBothKept(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	first := c.InsertOptimistic(msg{Group: "s1", Text: "ok", Ref: "r1", At: at(1)})
	second := c.InsertOptimistic(msg{Group: "s1", Text: "ok", Ref: "r2", At: at(2)})
	require.Len(t, c.Items(), 2)

	src.push(msg{ID: "srv-2", Group: "s1", Text: "ok", Ref: "r2", At: at(2)})
	src.push(msg{ID: "srv-1", Group: "s1", Text: "ok", Ref: "r1", At: at(1)})

	for id, srv := range map[string]string{first: "srv-1", second: "srv-2"} {
		_, err := c.Confirm(ctx, id, func(context.Context) (msg, error) {
			return msg{ID: srv, Group: "s1", Text: "ok", At: at(1)}, nil
		})
		require.NoError(t, err)
	}

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []string{"srv-1", "srv-2"}, []string{entries[0].ID, entries[1].ID})
}

func TestRemoteOutsideWindowIsKept(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	c.InsertOptimistic(msg{Group: "s1", Text: "hello", At: at(1)})
	src.push(msg{ID: "srv-9", Group: "s1", Text: "hello", At: at(10)})

	assert.Len(t, c.Items(), 2)
}

func TestRemoteInsertedAtOrderedPosition(t *testing.T) {
	src := newMockSource()
	src.rows["s1"] = []msg{
		{ID: "a", Group: "s1", Text: "a", At: at(1)},
		{ID: "c", Group: "s1", Text: "c", At: at(30)},
	}
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	src.push(msg{ID: "b", Group: "s1", Text: "b", At: at(15)})
	assert.Equal(t, []string{"a", "b", "c"}, texts(c.Items()))
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	c := New(msgSchema, newMockSource())
	_, err := c.Load(context.Background(), "s1")
	require.NoError(t, err)

	c.InsertOptimistic(msg{Group: "s1", Text: "one", At: at(1)})
	c.InsertOptimistic(msg{Group: "s1", Text: "two", At: at(1)})
	c.MergeRemote(msg{ID: "x", Group: "s1", Text: "three", At: at(1)})

	assert.Equal(t, []string{"one", "two", "three"}, texts(c.Items()))
}

func TestEventsOutsideScopeAreIgnored(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	src.push(msg{ID: "x", Group: "s2", Text: "elsewhere", At: at(1)})
	assert.Empty(t, c.Items())
}

func TestSubscribeToNewScopeDropsPreviousRows(t *testing.T) {
	src := newMockSource()
	src.rows["s1"] = []msg{{ID: "a", Group: "s1", Text: "first scope", At: at(1)}}
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))
	require.Len(t, c.Items(), 1)

	var snapshots []State[msg]
	defer c.OnChange(func(st State[msg]) { snapshots = append(snapshots, st) })()
	require.NoError(t, c.Subscribe(ctx, "s2", nil, nil))
	require.NotEmpty(t, snapshots)
	assert.Empty(t, snapshots[len(snapshots)-1].Items)

	src.push(msg{ID: "b", Group: "s2", Text: "second scope", At: at(2)})

	assert.Equal(t, "s2", c.Scope())
	assert.Equal(t, []string{"second scope"}, texts(c.Items()))
}

func TestSubscribeToNewScopeDiscardsInFlightLoad(t *testing.T) {
	src := newMockSource()
	src.rows["s1"] = []msg{{ID: "a", Group: "s1", Text: "first scope", At: at(1)}}
	gate := make(chan struct{})
	src.gates["s1"] = gate
	c := New(msgSchema, src)

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "s1")
		done <- err
	}()
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.loads == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Subscribe(context.Background(), "s2", nil, nil))
	close(gate)

	assert.ErrorIs(t, <-done, ErrStaleScope)
	assert.Empty(t, c.Items())
	assert.False(t, c.State().IsLoading)
}

func TestCollectionsOnSharedFeedStayIsolated(t *testing.T) {
	src := newMockSource()
	ctx := context.Background()
	first := New(msgSchema, src, WithName("first"))
	second := New(msgSchema, src, WithName("second"))
	for key, c := range map[string]*Collection[msg]{"s1": first, "s2": second} {
		_, err := c.Load(ctx, key)
		require.NoError(t, err)
		require.NoError(t, c.Subscribe(ctx, key, nil, nil))
	}

	src.push(msg{ID: "1", Group: "s1", Text: "s1 one", At: at(1)})
	src.push(msg{ID: "2", Group: "s2", Text: "s2 one", At: at(2)})
	src.push(msg{ID: "3", Group: "s1", Text: "s1 two", At: at(3)})
	src.push(msg{ID: "4", Group: "s3", Text: "s3 one", At: at(4)})
	src.push(msg{ID: "5", Group: "s2", Text: "s2 two", At: at(5)})
	src.pushDelete("2")
	src.push(msg{ID: "6", Group: "s2", Text: "s2 three", At: at(6)})

	assert.Equal(t, []string{"s1 one", "s1 two"}, texts(first.Items()))
	assert.Equal(t, []string{"s2 two", "s2 three"}, texts(second.Items()))
}

func TestSendRoundTrip(t *testing.T) {
	tests := []struct {
		name              string
		echoBeforeConfirm bool
	}{
		{name: "echo after confirm"},
		{name: "echo before confirm", echoBeforeConfirm: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newMockSource()
			src.rows["s1"] = []msg{
				{ID: "m2", Group: "s1", Text: "second", At: at(2)},
				{ID: "m1", Group: "s1", Text: "first", At: at(1)},
			}
			c := New(msgSchema, src)
			ctx := context.Background()
			items, err := c.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second"}, texts(items))
			require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

			localID := c.InsertOptimistic(msg{Group: "s1", Text: "hello", At: at(3)})
			entries := c.Entries()
			require.Len(t, entries, 3)
			assert.Equal(t, Pending, entries[2].Origin)
			assert.Equal(t, localID, entries[2].ID)

			saved := msg{ID: "m3", Group: "s1", Text: "hello", At: at(3)}
			if tt.echoBeforeConfirm {
				src.push(saved)
				require.Len(t, c.Items(), 3)
			}
			_, err = c.Confirm(ctx, localID, func(context.Context) (msg, error) { return saved, nil })
			require.NoError(t, err)
			if !tt.echoBeforeConfirm {
				src.push(saved)
			}

			items = c.Items()
			require.Len(t, items, 3)
			ids := make([]string, len(items))
			for i, m := range items {
				ids[i] = m.ID
				assert.False(t, IsLocalID(m.ID))
			}
			assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
			assert.Equal(t, []string{"first", "second", "hello"}, texts(items))
		})
	}
}

func TestDeleteEventRemovesItem(t *testing.T) {
	src := newMockSource()
	src.rows["s1"] = []msg{{ID: "a", Group: "s1", Text: "a", At: at(1)}}
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	src.pushDelete("a")
	assert.Empty(t, c.Items())
}

func TestSubscribeReplacesPreviousHandle(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()

	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))

	assert.Equal(t, 2, src.opened)
	assert.Equal(t, 1, src.closed)

	require.NoError(t, c.Close())
	assert.Equal(t, 2, src.closed)
}

func TestSubscribeFailureRecordsError(t *testing.T) {
	src := newMockSource()
	src.subErr = errors.New("channel error")
	c := New(msgSchema, src)

	err := c.Subscribe(context.Background(), "s1", nil, nil)

	var subErr *SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.False(t, c.State().IsConnected)
}

func TestConnectionStatusTracked(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	var seen []bool
	require.NoError(t, c.Subscribe(context.Background(), "s1", nil, func(ok bool) { seen = append(seen, ok) }))

	src.status(true)
	assert.True(t, c.State().IsConnected)
	src.status(false)
	assert.False(t, c.State().IsConnected)
	assert.Equal(t, []bool{true, false}, seen)
}

func TestReloadOnChange(t *testing.T) {
	src := newMockSource()
	src.rows[""] = []msg{{ID: "a", Text: "a", At: at(1)}}
	c := New(Schema[msg]{
		ID:        msgSchema.ID,
		WithID:    msgSchema.WithID,
		Timestamp: msgSchema.Timestamp,
	}, src, WithReloadOnChange())
	ctx := context.Background()
	_, err := c.Load(ctx, "")
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "", nil, nil))

	src.mu.Lock()
	src.rows[""] = append(src.rows[""], msg{ID: "b", Text: "b", At: at(2)})
	src.mu.Unlock()
	src.push(msg{ID: "b", Text: "b", At: at(2)})

	assert.Equal(t, []string{"a", "b"}, texts(c.Items()))
	assert.Equal(t, 2, src.loads)
}

func TestOnItemAndOnChange(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	_, err := c.Load(ctx, "s1")
	require.NoError(t, err)

	var merged []string
	require.NoError(t, c.Subscribe(ctx, "s1", func(m msg) { merged = append(merged, m.ID) }, nil))

	var snapshots int
	stop := c.OnChange(func(State[msg]) { snapshots++ })
	src.push(msg{ID: "a", Group: "s1", Text: "a", At: at(1)})
	stop()
	src.push(msg{ID: "b", Group: "s1", Text: "b", At: at(2)})

	assert.Equal(t, []string{"a", "b"}, merged)
	assert.Equal(t, 1, snapshots)
}

func TestEventsAfterCloseAreIgnored(t *testing.T) {
	src := newMockSource()
	c := New(msgSchema, src)
	ctx := context.Background()
	require.NoError(t, c.Subscribe(ctx, "s1", nil, nil))
	require.NoError(t, c.Close())

	src.push(msg{ID: "a", Group: "s1", Text: "a", At: at(1)})
	assert.Empty(t, c.Items())
}

func TestUpdateAndRemove(t *testing.T) {
	src := newMockSource()
	src.rows["s1"] = []msg{{ID: "a", Group: "s1", Text: "a", At: at(1)}}
	c := New(msgSchema, src)
	_, err := c.Load(context.Background(), "s1")
	require.NoError(t, err)

	assert.True(t, c.Update("a", func(m msg) msg { m.Text = "edited"; return m }))
	assert.Equal(t, []string{"edited"}, texts(c.Items()))
	assert.False(t, c.Update("missing", func(m msg) msg { return m }))

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
}
