package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Type is the kind of write parked in the queue.
type Type string

const (
	TypeAttendance    Type = "attendance"
	TypeStudentUpdate Type = "student_update"
	TypeNotification  Type = "notification"
)

// DefaultMaxRetries bounds how many failed passes an item survives.
const DefaultMaxRetries = 3

// Item is one pending write. The JSON layout matches what browser kiosks kept
// in local storage so exported queues can be imported as is.
type Item struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
}

// AttendancePayload is the body of a TypeAttendance item.
type AttendancePayload struct {
	StudentID   string    `json:"student_id"`
	ClassID     string    `json:"class_id"`
	CheckInTime time.Time `json:"check_in_time"`
	Notes       string    `json:"notes,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// StudentUpdatePayload is the body of a TypeStudentUpdate item.
type StudentUpdatePayload struct {
	StudentID string         `json:"studentId"`
	Updates   map[string]any `json:"updates"`
}

// NotificationPayload is the body of a TypeNotification item.
type NotificationPayload struct {
	StudentID string         `json:"student_id,omitempty"`
	Template  string         `json:"template"`
	Channel   string         `json:"channel"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Writer replays a queued item against the backing store. Returned errors are
// classified with store.Classify.
type Writer interface {
	Apply(ctx context.Context, item Item) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, item Item) error

func (f WriterFunc) Apply(ctx context.Context, item Item) error { return f(ctx, item) }

// Result summarises one sync pass.
type Result struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	IsOnline       bool `json:"isOnline"`
	QueueLength    int  `json:"queueLength"`
	SyncInProgress bool `json:"syncInProgress"`
	// Dropped counts items evicted since the process started.
	Dropped int `json:"dropped"`
}

// DeadLetter records an item evicted from the queue.
type DeadLetter struct {
	Item      Item      `json:"item"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	DroppedAt time.Time `json:"dropped_at"`
}

const (
	reasonMaxRetries = "max_retries"
	reasonPermanent  = "permanent"
)
