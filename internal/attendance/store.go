package attendance

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"dojoattend/internal/store"
)

// Store is the persistence collaborator of the check-in pipeline. Errors are
// *store.Error values or anything store.Classify understands; a second
// attendance row for the same student and class fails with a Conflict.
type Store interface {
	GetClass(ctx context.Context, id string) (Class, error)
	ListClasses(ctx context.Context, from, to time.Time) ([]Class, error)
	// GetStudent accepts a student id or a legacy qr_code value.
	GetStudent(ctx context.Context, id string) (Student, error)
	// FamilyStudents returns the students linked to a family credential. An
	// unknown credential yields an empty list.
	FamilyStudents(ctx context.Context, credential string) ([]Student, error)
	InsertAttendance(ctx context.Context, rec Record) (Record, error)
	ListClassAttendance(ctx context.Context, classID string) ([]Record, error)
	UpdateStudent(ctx context.Context, id string, updates map[string]any) error
	InsertNotification(ctx context.Context, n Notification) (Notification, error)
	SetFamilyCredential(ctx context.Context, parentID, credential string) error
	Ping(ctx context.Context) error
}

// updatableColumns lists the student columns UpdateStudent may touch.
var updatableColumns = map[string]bool{
	"first_name":              true,
	"last_name":               true,
	"email":                   true,
	"phone":                   true,
	"date_of_birth":           true,
	"belt_color":              true,
	"program":                 true,
	"status":                  true,
	"emergency_contact_name":  true,
	"emergency_contact_phone": true,
	"profile_photo_url":       true,
	"medical_notes":           true,
}

// ErrNoUpdates is returned for an empty update set.
var ErrNoUpdates = errors.New("no fields to update")

// checkUpdates validates an update set and returns its columns in a stable
// order. Invalid sets are permanent failures so queued replays are not retried.
func checkUpdates(updates map[string]any) ([]string, error) {
	if len(updates) == 0 {
		return nil, store.Permanent("update student", ErrNoUpdates)
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if !updatableColumns[col] {
			return nil, store.Permanent("update student", errors.Errorf("field %q cannot be updated", col))
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols, nil
}
