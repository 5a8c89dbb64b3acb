// Package queue holds writes that could not reach the database and replays
// them once connectivity comes back.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"dojoattend/internal/metrics"
	"dojoattend/internal/store"
)

// Options tune an Engine. Zero values pick the defaults.
type Options struct {
	// MaxRetries applies to items enqueued without an explicit bound.
	MaxRetries int
	// AttemptTimeout bounds each replay of a single item.
	AttemptTimeout time.Duration
	// ManualSync disables the background pass started by Enqueue.
	ManualSync bool
	// StartOffline makes the engine wait for SetOnline(true) before syncing.
	StartOffline bool
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Engine is the offline queue of one application instance. Create it once at
// startup and hand it to every component that enqueues or triggers syncs.
type Engine struct {
	storage Storage
	writer  Writer
	opts    Options
	log     zerolog.Logger

	mu      sync.Mutex
	items   []Item
	online  bool
	dropped int
	closed  bool
	bg      sync.WaitGroup

	// saveMu orders writes to storage; snapshots are taken while holding it.
	saveMu  sync.Mutex
	syncing atomic.Bool
}

// New loads the persisted queue and returns a ready engine. The engine owns
// storage and closes it in Close.
func New(ctx context.Context, storage Storage, writer Writer, opts Options) (*Engine, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	items, err := storage.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "queue: load")
	}
	for i := range items {
		if items[i].MaxRetries <= 0 {
			items[i].MaxRetries = opts.MaxRetries
		}
	}

	e := &Engine{
		storage: storage,
		writer:  writer,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "offline_queue").Logger(),
		items:   items,
		online:  !opts.StartOffline,
	}
	metrics.QueueLength.Set(float64(len(items)))
	if len(items) > 0 {
		e.log.Info().Int("items", len(items)).Msg("restored offline queue")
	}
	return e, nil
}

// Enqueue appends a write and persists the queue before returning. A
// maxRetries of zero or less uses the engine's configured bound. When the
// engine is online a sync pass is started in the background.
func (e *Engine) Enqueue(ctx context.Context, typ Type, payload any, maxRetries int) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "queue: encode payload")
	}
	if maxRetries <= 0 {
		maxRetries = e.opts.MaxRetries
	}
	item := Item{
		ID:         uuid.NewString(),
		Type:       typ,
		Payload:    data,
		EnqueuedAt: e.opts.Now().UTC(),
		MaxRetries: maxRetries,
	}

	// The item becomes visible to sync passes only once it is on storage.
	e.saveMu.Lock()
	e.mu.Lock()
	next := append(append(make([]Item, 0, len(e.items)+1), e.items...), item)
	e.mu.Unlock()
	if err := e.storage.Save(ctx, next); err != nil {
		e.saveMu.Unlock()
		return "", errors.Wrap(err, "queue: save")
	}
	e.mu.Lock()
	e.items = append(e.items, item)
	online := e.online
	n := len(e.items)
	e.mu.Unlock()
	e.saveMu.Unlock()
	metrics.QueueLength.Set(float64(n))

	e.log.Info().Str("item", item.ID).Str("type", string(typ)).Msg("queued write")

	if online && !e.opts.ManualSync {
		e.trigger("enqueue")
	}
	return item.ID, nil
}

// QueueAttendance parks an attendance insert.
func (e *Engine) QueueAttendance(ctx context.Context, p AttendancePayload) (string, error) {
	if p.CheckInTime.IsZero() {
		p.CheckInTime = e.opts.Now().UTC()
	}
	return e.Enqueue(ctx, TypeAttendance, p, 0)
}

// QueueStudentUpdate parks a student update.
func (e *Engine) QueueStudentUpdate(ctx context.Context, studentID string, updates map[string]any) (string, error) {
	return e.Enqueue(ctx, TypeStudentUpdate, StudentUpdatePayload{StudentID: studentID, Updates: updates}, 0)
}

// QueueNotification parks a notification row for the dispatcher.
func (e *Engine) QueueNotification(ctx context.Context, p NotificationPayload) (string, error) {
	return e.Enqueue(ctx, TypeNotification, p, 0)
}

// SyncAll replays a snapshot of the queue. Only one pass runs at a time; a
// call made while another pass is running returns an empty Result without
// touching the queue. Items enqueued during a pass wait for the next one.
// A started pass is not cancelled by ctx.
func (e *Engine) SyncAll(ctx context.Context) Result {
	if !e.syncing.CompareAndSwap(false, true) {
		return Result{}
	}
	defer e.syncing.Store(false)

	e.mu.Lock()
	if !e.online || len(e.items) == 0 {
		e.mu.Unlock()
		return Result{}
	}
	snapshot := append([]Item(nil), e.items...)
	e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var res Result
	for _, item := range snapshot {
		err := e.attempt(ctx, item)
		if err == nil || store.IsConflict(err) {
			// A conflict means an earlier replay already landed.
			e.remove(item.ID)
			res.Synced++
			metrics.SyncItems.WithLabelValues("synced").Inc()
			continue
		}

		res.Failed++
		switch store.Classify(err) {
		case store.KindPermanent, store.KindNotFound:
			e.remove(item.ID)
			e.deadLetter(ctx, item, reasonPermanent, err)
		default:
			retries, ok := e.bump(item.ID)
			if ok && retries >= item.MaxRetries {
				e.remove(item.ID)
				item.RetryCount = retries
				e.deadLetter(ctx, item, reasonMaxRetries, err)
			} else {
				metrics.SyncItems.WithLabelValues("retried").Inc()
				e.log.Warn().Err(err).Str("item", item.ID).Int("retry", retries).Msg("replay failed")
			}
		}
	}

	if err := e.persist(ctx); err != nil {
		e.log.Error().Err(err).Msg("persist queue after sync")
	}
	if res.Synced > 0 || res.Failed > 0 {
		e.log.Info().Int("synced", res.Synced).Int("failed", res.Failed).Msg("sync pass finished")
	}
	return res
}

func (e *Engine) attempt(ctx context.Context, item Item) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("queue: writer panic: %v", r)
		}
	}()
	return e.writer.Apply(ctx, item)
}

// Status is cheap and has no side effects.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		IsOnline:       e.online,
		QueueLength:    len(e.items),
		SyncInProgress: e.syncing.Load(),
		Dropped:        e.dropped,
	}
}

// Items returns a copy of the pending items.
func (e *Engine) Items() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Item(nil), e.items...)
}

// DeadLetters lists items evicted from the queue.
func (e *Engine) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return e.storage.DeadLetters(ctx)
}

// Clear drops every pending item without replaying it.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	e.items = nil
	e.mu.Unlock()
	return e.persist(ctx)
}

// Wait blocks until background passes started so far have finished.
func (e *Engine) Wait() { e.bg.Wait() }

// Close waits for background passes and releases the storage.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.bg.Wait()
	return e.storage.Close()
}

// trigger starts a best-effort pass in the background.
func (e *Engine) trigger(source string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		res := e.SyncAll(context.Background())
		e.log.Debug().Str("trigger", source).Int("synced", res.Synced).Int("failed", res.Failed).Msg("triggered sync")
	}()
}

func (e *Engine) persist(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	snapshot := append([]Item(nil), e.items...)
	e.mu.Unlock()

	metrics.QueueLength.Set(float64(len(snapshot)))
	return errors.Wrap(e.storage.Save(ctx, snapshot), "queue: save")
}

func (e *Engine) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.items {
		if e.items[i].ID == id {
			e.items = append(e.items[:i], e.items[i+1:]...)
			return
		}
	}
}

// bump increments the retry count of a still-queued item.
func (e *Engine) bump(id string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.items {
		if e.items[i].ID == id {
			e.items[i].RetryCount++
			return e.items[i].RetryCount, true
		}
	}
	return 0, false
}

func (e *Engine) deadLetter(ctx context.Context, item Item, reason string, cause error) {
	e.mu.Lock()
	e.dropped++
	e.mu.Unlock()
	metrics.SyncItems.WithLabelValues("dropped").Inc()

	e.log.Error().Err(cause).
		Str("item", item.ID).
		Str("type", string(item.Type)).
		Str("reason", reason).
		Int("retries", item.RetryCount).
		RawJSON("data", item.Payload).
		Msg("dropped queued write")

	dl := DeadLetter{Item: item, Reason: reason, Error: cause.Error(), DroppedAt: e.opts.Now().UTC()}
	if err := e.storage.AppendDeadLetter(ctx, dl); err != nil {
		e.log.Error().Err(err).Str("item", item.ID).Msg("record dead letter")
	}
}
