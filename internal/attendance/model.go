package attendance

import (
	"strings"
	"time"
)

// Student is a member of the dojo.
type Student struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	BeltColor string    `json:"belt_color"`
	Program   string    `json:"program"`
	Status    string    `json:"status"`
	QRCode    string    `json:"qr_code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Name is the display name shown at the front desk.
func (s Student) Name() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Class is one scheduled session on the timetable.
type Class struct {
	ID           string    `json:"id"`
	ClassType    string    `json:"class_type"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	InstructorID *string   `json:"instructor_id,omitempty"`
	Location     string    `json:"location"`
}

// InProgress reports whether now lies in [StartTime, EndTime].
func (c Class) InProgress(now time.Time) bool {
	return !now.Before(c.StartTime) && !now.After(c.EndTime)
}

// Record is an attendance row. At most one exists per (StudentID, ClassID).
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	ClassID     string    `json:"class_id"`
	CheckInTime time.Time `json:"check_in_time"`
	Notes       string    `json:"notes,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is a row picked up by the external dispatcher.
type Notification struct {
	ID        string         `json:"id"`
	StudentID string         `json:"student_id,omitempty"`
	Template  string         `json:"template"`
	Channel   string         `json:"channel"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
