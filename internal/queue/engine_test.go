package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dojoattend/internal/store"
)

var errOffline = errors.New("dial tcp 10.0.0.5:5432: connect: network is unreachable")

func studentOf(t *testing.T, item Item) string {
	t.Helper()
	var p AttendancePayload
	require.NoError(t, json.Unmarshal(item.Payload, &p))
	return p.StudentID
}

func newEngine(t *testing.T, w Writer, opts ...func(*Options)) (*Engine, *MemoryStorage) {
	t.Helper()
	st := NewMemoryStorage()
	o := Options{ManualSync: true}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := New(context.Background(), st, w, o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, st
}

func enqueueStudents(t *testing.T, e *Engine, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := e.QueueAttendance(context.Background(), AttendancePayload{StudentID: id, ClassID: "class-1"})
		require.NoError(t, err)
	}
}

func TestSyncAllPartialFailure(t *testing.T) {
	ctx := context.Background()
	var calls []string
	e, _ := newEngine(t, WriterFunc(func(_ context.Context, item Item) error {
		id := studentOf(t, item)
		calls = append(calls, id)
		if id == "b" {
			return errOffline
		}
		return nil
	}))
	enqueueStudents(t, e, "a", "b", "c")

	res := e.SyncAll(ctx)

	assert.Equal(t, Result{Synced: 2, Failed: 1}, res)
	assert.Equal(t, []string{"a", "b", "c"}, calls)
	items := e.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "b", studentOf(t, items[0]))
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestSyncAllEvictsAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, WriterFunc(func(context.Context, Item) error { return errOffline }))
	enqueueStudents(t, e, "a")

	for pass := 1; pass < DefaultMaxRetries; pass++ {
		assert.Equal(t, Result{Failed: 1}, e.SyncAll(ctx))
		items := e.Items()
		require.Len(t, items, 1, "pass %d", pass)
		assert.Equal(t, pass, items[0].RetryCount)
	}

	assert.Equal(t, Result{Failed: 1}, e.SyncAll(ctx))
	assert.Empty(t, e.Items())
	assert.Equal(t, 1, e.Status().Dropped)

	dead, err := st.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, reasonMaxRetries, dead[0].Reason)
	assert.Equal(t, DefaultMaxRetries, dead[0].Item.RetryCount)
	assert.Contains(t, dead[0].Error, "network is unreachable")
}

func TestSyncAllDropsPermanentFailuresImmediately(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, WriterFunc(func(context.Context, Item) error {
		return store.Permanent("insert attendance", errors.New("class no longer exists"))
	}))
	enqueueStudents(t, e, "a")

	assert.Equal(t, Result{Failed: 1}, e.SyncAll(ctx))
	assert.Empty(t, e.Items())

	dead, err := st.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, reasonPermanent, dead[0].Reason)
	assert.Equal(t, 0, dead[0].Item.RetryCount)
}

func TestSyncAllTreatsConflictAsSynced(t *testing.T) {
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error {
		return store.Conflict("insert attendance")
	}))
	enqueueStudents(t, e, "a", "b")

	assert.Equal(t, Result{Synced: 2}, e.SyncAll(context.Background()))
	assert.Zero(t, e.Status().QueueLength)
}

func TestSyncAllSingleFlight(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}))
	enqueueStudents(t, e, "a")

	done := make(chan Result, 1)
	go func() { done <- e.SyncAll(ctx) }()
	<-started

	assert.Equal(t, Result{}, e.SyncAll(ctx))
	st := e.Status()
	assert.True(t, st.SyncInProgress)
	assert.Equal(t, 1, st.QueueLength)

	close(release)
	assert.Equal(t, Result{Synced: 1}, <-done)
	assert.False(t, e.Status().SyncInProgress)
}

func TestSyncAllUsesSnapshot(t *testing.T) {
	ctx := context.Background()
	var e *Engine
	first := true
	e, _ = newEngine(t, WriterFunc(func(ctx context.Context, item Item) error {
		if first {
			first = false
			_, err := e.QueueAttendance(ctx, AttendancePayload{StudentID: "late", ClassID: "class-1"})
			require.NoError(t, err)
		}
		return nil
	}))
	enqueueStudents(t, e, "a")

	assert.Equal(t, Result{Synced: 1}, e.SyncAll(ctx))
	items := e.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "late", studentOf(t, items[0]))

	assert.Equal(t, Result{Synced: 1}, e.SyncAll(ctx))
	assert.Empty(t, e.Items())
}

func TestSyncAllNoopWhileOffline(t *testing.T) {
	var mu sync.Mutex
	applied := 0
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error {
		mu.Lock()
		applied++
		mu.Unlock()
		return nil
	}), func(o *Options) { o.StartOffline = true })
	enqueueStudents(t, e, "a", "b")

	assert.Equal(t, Result{}, e.SyncAll(context.Background()))
	assert.False(t, e.Status().IsOnline)

	e.SetOnline(true)
	e.Wait()

	assert.True(t, e.Status().IsOnline)
	assert.Zero(t, e.Status().QueueLength)
	mu.Lock()
	assert.Equal(t, 2, applied)
	mu.Unlock()
}

func TestEnqueueStartsBackgroundSync(t *testing.T) {
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error { return nil }),
		func(o *Options) { o.ManualSync = false })

	enqueueStudents(t, e, "a")
	e.Wait()

	assert.Zero(t, e.Status().QueueLength)
}

func TestResumeTriggersSync(t *testing.T) {
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error { return nil }))
	enqueueStudents(t, e, "a")
	require.Equal(t, 1, e.Status().QueueLength)

	e.Resume()
	e.Wait()

	assert.Zero(t, e.Status().QueueLength)
}

func TestQueueSurvivesReload(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStorage()
	w := WriterFunc(func(context.Context, Item) error { return errOffline })

	e1, err := New(ctx, st, w, Options{ManualSync: true})
	require.NoError(t, err)
	id, err := e1.QueueStudentUpdate(ctx, "s-1", map[string]any{"belt_color": "Green"})
	require.NoError(t, err)
	_, err = e1.QueueNotification(ctx, NotificationPayload{StudentID: "s-1", Template: "check_in", Channel: "sms"})
	require.NoError(t, err)
	e1.SyncAll(ctx)

	e2, err := New(ctx, st, w, Options{ManualSync: true})
	require.NoError(t, err)
	items := e2.Items()
	require.Len(t, items, 2)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, TypeStudentUpdate, items[0].Type)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, TypeNotification, items[1].Type)

	var upd StudentUpdatePayload
	require.NoError(t, json.Unmarshal(items[0].Payload, &upd))
	assert.Equal(t, "Green", upd.Updates["belt_color"])
}

func TestLoadBrowserQueueLayout(t *testing.T) {
	doc := []byte(`[{"id":"1700000000000_k3j2h1g0f","type":"attendance",
		"data":{"student_id":"s-1","class_id":"c-1","check_in_time":"2024-03-01T17:05:00.000Z"},
		"timestamp":"2024-03-01T17:05:00.000Z","retryCount":1,"maxRetries":3}]`)

	e, err := New(context.Background(), NewMemoryStorageFrom(doc), WriterFunc(func(context.Context, Item) error { return nil }), Options{ManualSync: true})
	require.NoError(t, err)

	items := e.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "1700000000000_k3j2h1g0f", items[0].ID)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, time.Date(2024, 3, 1, 17, 5, 0, 0, time.UTC), items[0].EnqueuedAt.UTC())
}

func TestNewRejectsCorruptQueue(t *testing.T) {
	_, err := New(context.Background(), NewMemoryStorageFrom([]byte("{not json")), nil, Options{})
	assert.ErrorIs(t, err, ErrCorruptQueue)
}

func TestClear(t *testing.T) {
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error { return nil }))
	enqueueStudents(t, e, "a", "b")

	require.NoError(t, e.Clear(context.Background()))
	assert.Zero(t, e.Status().QueueLength)
}

type flakyPinger struct {
	mu  sync.Mutex
	err error
}

func (p *flakyPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *flakyPinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestTriggersProbe(t *testing.T) {
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error { return nil }))
	p := &flakyPinger{err: errOffline}
	tr, err := NewTriggers(e, p, time.Hour, time.Hour)
	require.NoError(t, err)

	tr.Probe()
	assert.False(t, e.Status().IsOnline)

	enqueueStudents(t, e, "a")
	tr.Tick()
	e.Wait()
	assert.Equal(t, 1, e.Status().QueueLength)

	p.set(nil)
	tr.Probe()
	e.Wait()
	assert.True(t, e.Status().IsOnline)
	assert.Zero(t, e.Status().QueueLength)
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 1s", every(10*time.Millisecond))
	assert.Equal(t, "@every 5s", every(5*time.Second))
}

func TestHelpersUseConfiguredMaxRetries(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, WriterFunc(func(context.Context, Item) error { return errOffline }),
		func(o *Options) { o.MaxRetries = 5 })

	_, err := e.QueueAttendance(ctx, AttendancePayload{StudentID: "a", ClassID: "class-1"})
	require.NoError(t, err)
	_, err = e.QueueStudentUpdate(ctx, "a", map[string]any{"belt_color": "Blue"})
	require.NoError(t, err)
	_, err = e.QueueNotification(ctx, NotificationPayload{StudentID: "a", Template: "check_in", Channel: "sms"})
	require.NoError(t, err)
	_, err = e.Enqueue(ctx, TypeNotification, NotificationPayload{Template: "check_in"}, 1)
	require.NoError(t, err)

	items := e.Items()
	require.Len(t, items, 4)
	for _, item := range items[:3] {
		assert.Equal(t, 5, item.MaxRetries, string(item.Type))
	}
	assert.Equal(t, 1, items[3].MaxRetries)

	for pass := 1; pass < 5; pass++ {
		e.SyncAll(ctx)
	}
	assert.Len(t, e.Items(), 3)
	e.SyncAll(ctx)
	assert.Empty(t, e.Items())
}

// stallingStorage holds Save until released and then fails it.
type stallingStorage struct {
	*MemoryStorage
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStorage) Save(context.Context, []Item) error {
	close(s.entered)
	<-s.release
	return errors.New("disk full")
}

func TestEnqueueHiddenFromSyncUntilPersisted(t *testing.T) {
	ctx := context.Background()
	st := &stallingStorage{MemoryStorage: NewMemoryStorage(), entered: make(chan struct{}), release: make(chan struct{})}
	var applied int
	e, err := New(ctx, st, WriterFunc(func(context.Context, Item) error {
		applied++
		return nil
	}), Options{ManualSync: true})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.QueueAttendance(ctx, AttendancePayload{StudentID: "a", ClassID: "class-1"})
		errCh <- err
	}()
	<-st.entered

	assert.Empty(t, e.Items())
	assert.Equal(t, Result{}, e.SyncAll(ctx))

	close(st.release)
	assert.ErrorContains(t, <-errCh, "disk full")
	assert.Empty(t, e.Items())
	assert.Zero(t, applied)
}
