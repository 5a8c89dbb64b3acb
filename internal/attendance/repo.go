package attendance

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dojoattend/internal/store"
)

//go:embed schema.sql
var schema string

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the tables the check-in pipeline reads and writes.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return wrap("migrate", err)
}

// wrap tags a driver error with its classification.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return store.E(store.Classify(err), op, err)
}

const studentColumns = `s.id, s.first_name, s.last_name, s.email, s.phone, s.belt_color, s.program, s.status, s.qr_code, s.created_at, s.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.Email, &s.Phone, &s.BeltColor, &s.Program, &s.Status, &s.QRCode, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanClass(row scanner) (Class, error) {
	var c Class
	err := row.Scan(&c.ID, &c.ClassType, &c.StartTime, &c.EndTime, &c.InstructorID, &c.Location)
	return c, err
}

// GetClass returns a class by id.
func (r *Repository) GetClass(ctx context.Context, id string) (Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_type, start_time, end_time, instructor_id, location
		FROM classes WHERE id::text = $1
	`, id)
	c, err := scanClass(row)
	return c, wrap("get class", err)
}

// ListClasses returns classes starting in [from, to] ordered by start time.
func (r *Repository) ListClasses(ctx context.Context, from, to time.Time) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, class_type, start_time, end_time, instructor_id, location
		FROM classes
		WHERE start_time >= $1 AND start_time <= $2
		ORDER BY start_time
	`, from, to)
	if err != nil {
		return nil, wrap("list classes", err)
	}
	defer rows.Close()

	var classes []Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, wrap("list classes", err)
		}
		classes = append(classes, c)
	}
	return classes, wrap("list classes", rows.Err())
}

// GetStudent looks a student up by id. Cards printed before ids were embedded
// directly carry the stored qr_code, so that column is matched as well.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+studentColumns+`
		FROM students s
		WHERE s.id::text = $1 OR s.qr_code = $1 OR s.qr_code = 'student_' || $1
		LIMIT 1
	`, id)
	s, err := scanStudent(row)
	return s, wrap("get student", err)
}

// FamilyStudents resolves a family credential to its current members. Legacy
// rows store the credential with its family_ prefix and rich tokens carry the
// parent's user id, so all three are accepted.
func (r *Repository) FamilyStudents(ctx context.Context, credential string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+studentColumns+`
		FROM parents p
		JOIN parent_students ps ON ps.parent_id = p.user_id
		JOIN students s ON s.id = ps.student_id
		WHERE p.family_qr_code = $1 OR p.family_qr_code = 'family_' || $1 OR p.user_id::text = $1
		ORDER BY s.last_name, s.first_name
	`, credential)
	if err != nil {
		return nil, wrap("family students", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, wrap("family students", err)
		}
		students = append(students, s)
	}
	return students, wrap("family students", rows.Err())
}

// InsertAttendance writes a check-in. The (student_id, class_id) unique
// constraint turns a second check-in into a Conflict.
func (r *Repository) InsertAttendance(ctx context.Context, rec Record) (Record, error) {
	if rec.CheckInTime.IsZero() {
		rec.CheckInTime = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, class_id, check_in_time, notes, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		RETURNING id, created_at
	`, rec.StudentID, rec.ClassID, rec.CheckInTime, rec.Notes, rec.CreatedBy)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return Record{}, wrap("insert attendance", err)
	}
	return rec, nil
}

// ListClassAttendance returns a class roster, latest check-in first.
func (r *Repository) ListClassAttendance(ctx context.Context, classID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, class_id, check_in_time, COALESCE(notes, ''), COALESCE(created_by, ''), created_at
		FROM attendance
		WHERE class_id::text = $1
		ORDER BY check_in_time DESC
	`, classID)
	if err != nil {
		return nil, wrap("list attendance", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.CheckInTime, &rec.Notes, &rec.CreatedBy, &rec.CreatedAt); err != nil {
			return nil, wrap("list attendance", err)
		}
		res = append(res, rec)
	}
	return res, wrap("list attendance", rows.Err())
}

// UpdateStudent applies whitelisted column updates.
func (r *Repository) UpdateStudent(ctx context.Context, id string, updates map[string]any) error {
	cols, err := checkUpdates(updates)
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	args = append(args, id)
	for _, col := range cols {
		args = append(args, updates[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	res, err := r.db.ExecContext(ctx,
		`UPDATE students SET `+strings.Join(sets, ", ")+` WHERE id::text = $1`, args...)
	if err != nil {
		return wrap("update student", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.NotFound("update student")
	}
	return nil
}

// InsertNotification queues a row for the notification dispatcher.
func (r *Repository) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return Notification{}, store.Permanent("insert notification", err)
	}
	if n.Status == "" {
		n.Status = "pending"
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (student_id, template, channel, payload, status)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4::jsonb, $5)
		RETURNING id, created_at
	`, n.StudentID, n.Template, n.Channel, string(payload), n.Status)
	if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
		return Notification{}, wrap("insert notification", err)
	}
	return n, nil
}

// SetFamilyCredential replaces a parent's family credential.
func (r *Repository) SetFamilyCredential(ctx context.Context, parentID, credential string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE parents SET family_qr_code = $2 WHERE user_id::text = $1`, parentID, credential)
	if err != nil {
		return wrap("set family credential", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.NotFound("set family credential")
	}
	return nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return wrap("ping", r.db.PingContext(ctx))
}
