package attendance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dojoattend/internal/qrtoken"
	"dojoattend/internal/store"
)

// Service groups the non-scan operations the API exposes next to the resolver.
type Service struct {
	store   Store
	classes *ClassSelector
	queue   Queue
	timeout time.Duration
	log     zerolog.Logger
}

// NewService creates a service. q may be nil to disable offline queueing.
func NewService(st Store, classes *ClassSelector, q Queue, timeout time.Duration, log zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{store: st, classes: classes, queue: q, timeout: timeout, log: log.With().Str("component", "attendance").Logger()}
}

// CurrentClass returns the auto-selected class.
func (s *Service) CurrentClass(ctx context.Context) (Class, bool, error) {
	return s.classes.Current(ctx)
}

// ClassAttendance returns the roster of a class.
func (s *Service) ClassAttendance(ctx context.Context, classID string) ([]Record, error) {
	return s.store.ListClassAttendance(ctx, classID)
}

// Student returns a student by id.
func (s *Service) Student(ctx context.Context, id string) (Student, error) {
	return s.store.GetStudent(ctx, id)
}

// FamilyStudents returns the students a family credential checks in.
func (s *Service) FamilyStudents(ctx context.Context, credential string) ([]Student, error) {
	return s.store.FamilyStudents(ctx, credential)
}

// UpdateStudent writes updates directly, or parks them in the offline queue
// when the store is unreachable. pending reports the latter.
func (s *Service) UpdateStudent(ctx context.Context, id string, updates map[string]any) (pending bool, err error) {
	if _, err := checkUpdates(updates); err != nil {
		return false, err
	}
	uctx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.store.UpdateStudent(uctx, id, updates)
	cancel()
	if err == nil || !store.IsTransient(err) || s.queue == nil {
		return false, err
	}

	itemID, qerr := s.queue.QueueStudentUpdate(context.WithoutCancel(ctx), id, updates)
	if qerr != nil {
		return false, qerr
	}
	s.log.Warn().Err(err).Str("student", id).Str("item", itemID).Msg("student update queued for sync")
	return true, nil
}

// IssueFamilyCredential gives a parent a fresh family credential. Cards
// printed with the old one stop working.
func (s *Service) IssueFamilyCredential(ctx context.Context, parentID string) (string, error) {
	credential := qrtoken.NewFamilyCredential()
	if err := s.store.SetFamilyCredential(ctx, parentID, credential); err != nil {
		return "", err
	}
	s.log.Info().Str("parent", parentID).Msg("issued family credential")
	return credential, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
