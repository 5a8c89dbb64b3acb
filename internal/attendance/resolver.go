package attendance

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dojoattend/internal/metrics"
	"dojoattend/internal/qrtoken"
	"dojoattend/internal/queue"
	"dojoattend/internal/store"
)

// Status is the overall result of resolving one scan.
type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusSucceededPending Status = "succeeded_pending"
	StatusDuplicate        Status = "duplicate"
	StatusRejected         Status = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonInvalidFormat       Reason = "invalid_format"
	ReasonNoActiveClass       Reason = "no_active_class"
	ReasonNoStudentsForFamily Reason = "no_students_for_family"
	ReasonStudentNotFound     Reason = "student_not_found"
	ReasonPersistence         Reason = "persistence"
)

// Entry is one student touched by a scan.
type Entry struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name,omitempty"`
}

// Outcome describes what a scan did. CheckedIn lists rows written now,
// Pending rows parked in the offline queue, Duplicates students already
// checked into the class and Failed students whose write was refused.
type Outcome struct {
	Status     Status           `json:"status"`
	Reason     Reason           `json:"reason,omitempty"`
	Identity   qrtoken.Identity `json:"identity"`
	ClassID    string           `json:"class_id,omitempty"`
	CheckedIn  []Entry          `json:"checked_in,omitempty"`
	Pending    []Entry          `json:"pending,omitempty"`
	Duplicates []Entry          `json:"duplicates,omitempty"`
	Failed     []Entry          `json:"failed,omitempty"`
	Err        error            `json:"-"`
}

// Names lists the display names of the students checked in or pending.
func (o Outcome) Names() []string {
	var names []string
	for _, group := range [][]Entry{o.CheckedIn, o.Pending} {
		for _, e := range group {
			if e.Name != "" {
				names = append(names, e.Name)
			}
		}
	}
	return names
}

// Message is the text shown to the person at the kiosk.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusSucceeded:
		if names := o.Names(); len(names) > 0 {
			return "Checked in " + strings.Join(names, ", ")
		}
		return "Checked in"
	case StatusSucceededPending:
		return "Checked in, will sync when back online"
	case StatusDuplicate:
		if len(o.Duplicates) > 1 {
			return "Everyone is already checked in to this class"
		}
		return "Student already checked in to this class"
	}
	switch o.Reason {
	case ReasonInvalidFormat:
		return "Invalid QR code format"
	case ReasonNoActiveClass:
		return "No active class to check in to"
	case ReasonNoStudentsForFamily:
		return "No students found for this family QR code"
	case ReasonStudentNotFound:
		return "Student not found"
	}
	return "Failed to record check-in"
}

// Queue is the part of the offline queue the resolver writes to.
type Queue interface {
	QueueAttendance(ctx context.Context, p queue.AttendancePayload) (string, error)
	QueueStudentUpdate(ctx context.Context, studentID string, updates map[string]any) (string, error)
	QueueNotification(ctx context.Context, p queue.NotificationPayload) (string, error)
}

// ResolverOptions tune a Resolver.
type ResolverOptions struct {
	// PersistTimeout bounds each attendance insert. A timeout is transient.
	PersistTimeout time.Duration
	// Notify queues a check_in notification for every student checked in.
	Notify bool
	// NotifyChannel is the channel of those notifications ("email" or "sms").
	NotifyChannel string
	// CreatedBy is stamped on every record, typically the kiosk id.
	CreatedBy string
	Now       func() time.Time
}

// Resolver turns scanned tokens into attendance rows.
type Resolver struct {
	store   Store
	classes *ClassSelector
	queue   Queue
	opts    ResolverOptions
	log     zerolog.Logger
}

// NewResolver wires a resolver. classes may be nil when callers always pin a
// class; q may be nil to disable offline queueing.
func NewResolver(st Store, classes *ClassSelector, q Queue, opts ResolverOptions, log zerolog.Logger) *Resolver {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.NotifyChannel == "" {
		opts.NotifyChannel = "email"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		store:   st,
		classes: classes,
		queue:   q,
		opts:    opts,
		log:     log.With().Str("component", "resolver").Logger(),
	}
}

type createdByKey struct{}

// WithCreatedBy stamps records written under ctx with who, overriding
// ResolverOptions.CreatedBy.
func WithCreatedBy(ctx context.Context, who string) context.Context {
	return context.WithValue(ctx, createdByKey{}, who)
}

func (r *Resolver) createdBy(ctx context.Context) string {
	if who, ok := ctx.Value(createdByKey{}).(string); ok && who != "" {
		return who
	}
	return r.opts.CreatedBy
}

type scanState string

const (
	stateDecoding   scanState = "decoding"
	stateResolving  scanState = "resolving"
	statePersisting scanState = "persisting"
)

// ResolveCheckIn checks in the student or family behind token. An empty
// classID auto-selects the current class. Expected failures are reported in
// the Outcome; ResolveCheckIn never panics on scan noise.
func (r *Resolver) ResolveCheckIn(ctx context.Context, token, classID, notes string) Outcome {
	log := r.log.With().Str("class", classID).Logger()
	log.Debug().Str("state", string(stateDecoding)).Msg("scan")

	id, ok := qrtoken.Decode(token)
	if !ok {
		return r.finish(log, Outcome{Status: StatusRejected, Reason: ReasonInvalidFormat})
	}
	out := Outcome{Identity: id}
	log = log.With().Str("kind", id.Kind.String()).Str("ref", id.ReferenceID).Logger()
	log.Debug().Str("state", string(stateResolving)).Msg("scan")

	classID, err := r.resolveClass(ctx, log, classID)
	if classID == "" {
		out.Status, out.Reason, out.Err = StatusRejected, ReasonNoActiveClass, err
		return r.finish(log, out)
	}
	out.ClassID = classID

	targets, reason, err := r.targets(ctx, log, id)
	if reason != ReasonNone {
		out.Status, out.Reason, out.Err = StatusRejected, reason, err
		return r.finish(log, out)
	}

	log.Debug().Str("state", string(statePersisting)).Int("students", len(targets)).Msg("scan")
	now := r.opts.Now().UTC()
	for _, t := range targets {
		r.persist(ctx, log, &out, t, now, notes)
	}

	switch {
	case len(out.CheckedIn) > 0:
		out.Status = StatusSucceeded
	case len(out.Pending) > 0:
		out.Status = StatusSucceededPending
	case len(out.Duplicates) > 0 && len(out.Failed) == 0:
		out.Status = StatusDuplicate
	default:
		out.Status, out.Reason = StatusRejected, ReasonPersistence
	}
	r.notify(ctx, log, out, now)
	return r.finish(log, out)
}

// resolveClass returns the class to write to, or "" when none applies.
func (r *Resolver) resolveClass(ctx context.Context, log zerolog.Logger, classID string) (string, error) {
	if classID != "" {
		_, err := r.store.GetClass(ctx, classID)
		switch {
		case err == nil:
			return classID, nil
		case store.IsTransient(err):
			// The caller pinned the class; trust it while offline.
			log.Warn().Err(err).Msg("class lookup failed, using pinned class")
			return classID, nil
		default:
			return "", err
		}
	}
	if r.classes == nil {
		return "", nil
	}
	c, ok, err := r.classes.Current(ctx)
	if err != nil || !ok {
		return "", err
	}
	return c.ID, nil
}

func (r *Resolver) targets(ctx context.Context, log zerolog.Logger, id qrtoken.Identity) ([]Entry, Reason, error) {
	switch id.Kind {
	case qrtoken.KindStudent:
		s, err := r.store.GetStudent(ctx, id.ReferenceID)
		switch {
		case err == nil:
			return []Entry{{StudentID: s.ID, Name: s.Name()}}, ReasonNone, nil
		case store.IsNotFound(err):
			return nil, ReasonStudentNotFound, err
		case store.IsTransient(err):
			log.Warn().Err(err).Msg("student lookup failed, using scanned id")
			return []Entry{{StudentID: id.ReferenceID, Name: id.Name}}, ReasonNone, nil
		default:
			return nil, ReasonPersistence, err
		}

	case qrtoken.KindFamily:
		// Membership is read on every scan; families change between visits.
		students, err := r.store.FamilyStudents(ctx, id.ReferenceID)
		switch {
		case err == nil && len(students) == 0, store.IsNotFound(err):
			return nil, ReasonNoStudentsForFamily, err
		case err != nil:
			return nil, ReasonPersistence, err
		}
		entries := make([]Entry, 0, len(students))
		for _, s := range students {
			entries = append(entries, Entry{StudentID: s.ID, Name: s.Name()})
		}
		return entries, ReasonNone, nil
	}
	return nil, ReasonInvalidFormat, nil
}

func (r *Resolver) persist(ctx context.Context, log zerolog.Logger, out *Outcome, t Entry, now time.Time, notes string) {
	rec := Record{
		StudentID:   t.StudentID,
		ClassID:     out.ClassID,
		CheckInTime: now,
		Notes:       notes,
		CreatedBy:   r.createdBy(ctx),
	}
	pctx, cancel := context.WithTimeout(ctx, r.opts.PersistTimeout)
	_, err := r.store.InsertAttendance(pctx, rec)
	cancel()

	switch {
	case err == nil:
		out.CheckedIn = append(out.CheckedIn, t)
		return
	case store.IsConflict(err):
		out.Duplicates = append(out.Duplicates, t)
		return
	case store.IsTransient(err) && r.queue != nil:
		itemID, qerr := r.queue.QueueAttendance(context.WithoutCancel(ctx), queue.AttendancePayload{
			StudentID:   rec.StudentID,
			ClassID:     rec.ClassID,
			CheckInTime: rec.CheckInTime,
			Notes:       rec.Notes,
			CreatedBy:   rec.CreatedBy,
		})
		if qerr == nil {
			log.Warn().Err(err).Str("student", t.StudentID).Str("item", itemID).Msg("check-in queued for sync")
			out.Pending = append(out.Pending, t)
			return
		}
		log.Error().Err(qerr).Str("student", t.StudentID).Msg("queue check-in")
	}

	log.Error().Err(err).Str("student", t.StudentID).Msg("check-in failed")
	out.Failed = append(out.Failed, t)
	if out.Err == nil {
		out.Err = err
	}
}

// notify queues check_in notifications. Failures only cost the message.
func (r *Resolver) notify(ctx context.Context, log zerolog.Logger, out Outcome, now time.Time) {
	if !r.opts.Notify || r.queue == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, group := range [][]Entry{out.CheckedIn, out.Pending} {
		for _, e := range group {
			_, err := r.queue.QueueNotification(ctx, queue.NotificationPayload{
				StudentID: e.StudentID,
				Template:  "check_in",
				Channel:   r.opts.NotifyChannel,
				Payload: map[string]any{
					"student_name":  e.Name,
					"class_id":      out.ClassID,
					"check_in_time": now.Format(time.RFC3339),
				},
			})
			if err != nil {
				log.Warn().Err(err).Str("student", e.StudentID).Msg("queue check-in notification")
			}
		}
	}
}

func (r *Resolver) finish(log zerolog.Logger, out Outcome) Outcome {
	metrics.CheckIns.WithLabelValues(string(out.Status), string(out.Reason)).Inc()
	ev := log.Info()
	if out.Status == StatusRejected {
		ev = log.Warn().Err(out.Err)
	}
	ev.Str("state", string(out.Status)).
		Str("reason", string(out.Reason)).
		Int("checked_in", len(out.CheckedIn)).
		Int("pending", len(out.Pending)).
		Int("duplicates", len(out.Duplicates)).
		Msg("scan resolved")
	return out
}
