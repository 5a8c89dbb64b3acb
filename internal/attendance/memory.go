package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"dojoattend/internal/store"
)

// MemoryStore is an in-process Store. It backs single-kiosk development setups
// and tests; SetFault injects failures per operation.
type MemoryStore struct {
	mu            sync.Mutex
	students      map[string]Student
	classes       map[string]Class
	credentials   map[string]string   // parent id -> family credential
	links         map[string][]string // parent id -> student ids
	records       []Record
	notifications []Notification
	faults        map[string]error
	now           func() time.Time
}

// Operation names accepted by SetFault.
const (
	OpGetClass            = "GetClass"
	OpListClasses         = "ListClasses"
	OpGetStudent          = "GetStudent"
	OpFamilyStudents      = "FamilyStudents"
	OpInsertAttendance    = "InsertAttendance"
	OpListClassAttendance = "ListClassAttendance"
	OpUpdateStudent       = "UpdateStudent"
	OpInsertNotification  = "InsertNotification"
	OpSetFamilyCredential = "SetFamilyCredential"
	OpPing                = "Ping"
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:    map[string]Student{},
		classes:     map[string]Class{},
		credentials: map[string]string{},
		links:       map[string][]string{},
		faults:      map[string]error{},
		now:         time.Now,
	}
}

// SetFault makes op fail with err until cleared with a nil error.
func (m *MemoryStore) SetFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (m *MemoryStore) fault(op string) error {
	return m.faults[op]
}

// AddStudent stores s, generating an id when missing.
func (m *MemoryStore) AddStudent(s Student) Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.QRCode == "" {
		s.QRCode = "student_" + s.ID
	}
	now := m.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.students[s.ID] = s
	return s
}

// AddClass stores c, generating an id when missing.
func (m *MemoryStore) AddClass(c Class) Class {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.classes[c.ID] = c
	return c
}

// AddFamily links studentIDs to a parent holding credential.
func (m *MemoryStore) AddFamily(parentID, credential string, studentIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[parentID] = credential
	m.links[parentID] = append(m.links[parentID], studentIDs...)
}

// Notifications returns the stored notification rows.
func (m *MemoryStore) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notifications...)
}

func (m *MemoryStore) GetClass(_ context.Context, id string) (Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGetClass); err != nil {
		return Class{}, err
	}
	c, ok := m.classes[id]
	if !ok {
		return Class{}, store.NotFound("get class")
	}
	return c, nil
}

func (m *MemoryStore) ListClasses(_ context.Context, from, to time.Time) ([]Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpListClasses); err != nil {
		return nil, err
	}
	var res []Class
	for _, c := range m.classes {
		if !c.StartTime.Before(from) && !c.StartTime.After(to) {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.Before(res[j].StartTime) })
	return res, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGetStudent); err != nil {
		return Student{}, err
	}
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	for _, s := range m.students {
		if s.QRCode == id || s.QRCode == "student_"+id {
			return s, nil
		}
	}
	return Student{}, store.NotFound("get student")
}

func (m *MemoryStore) FamilyStudents(_ context.Context, credential string) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpFamilyStudents); err != nil {
		return nil, err
	}
	var res []Student
	for parentID, cred := range m.credentials {
		if cred != credential && cred != "family_"+credential && parentID != credential {
			continue
		}
		for _, id := range m.links[parentID] {
			if s, ok := m.students[id]; ok {
				res = append(res, s)
			}
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].LastName != res[j].LastName {
			return res[i].LastName < res[j].LastName
		}
		return res[i].FirstName < res[j].FirstName
	})
	return res, nil
}

func (m *MemoryStore) InsertAttendance(ctx context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpInsertAttendance); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, store.E(store.KindTransient, "insert attendance", err)
	}
	if _, ok := m.students[rec.StudentID]; !ok {
		return Record{}, store.Permanent("insert attendance", errors.Errorf("unknown student %s", rec.StudentID))
	}
	if _, ok := m.classes[rec.ClassID]; !ok {
		return Record{}, store.Permanent("insert attendance", errors.Errorf("unknown class %s", rec.ClassID))
	}
	for _, r := range m.records {
		if r.StudentID == rec.StudentID && r.ClassID == rec.ClassID {
			return Record{}, store.Conflict("insert attendance")
		}
	}
	now := m.now().UTC()
	if rec.CheckInTime.IsZero() {
		rec.CheckInTime = now
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *MemoryStore) ListClassAttendance(_ context.Context, classID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpListClassAttendance); err != nil {
		return nil, err
	}
	var res []Record
	for _, r := range m.records {
		if r.ClassID == classID {
			res = append(res, r)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CheckInTime.After(res[j].CheckInTime) })
	return res, nil
}

func (m *MemoryStore) UpdateStudent(_ context.Context, id string, updates map[string]any) error {
	cols, err := checkUpdates(updates)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpUpdateStudent); err != nil {
		return err
	}
	s, ok := m.students[id]
	if !ok {
		return store.NotFound("update student")
	}
	for _, col := range cols {
		v, _ := updates[col].(string)
		switch col {
		case "first_name":
			s.FirstName = v
		case "last_name":
			s.LastName = v
		case "belt_color":
			s.BeltColor = v
		case "program":
			s.Program = v
		case "status":
			s.Status = v
		case "email":
			s.Email = &v
		case "phone":
			s.Phone = &v
		}
	}
	s.UpdatedAt = m.now().UTC()
	m.students[id] = s
	return nil
}

func (m *MemoryStore) InsertNotification(_ context.Context, n Notification) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpInsertNotification); err != nil {
		return Notification{}, err
	}
	n.ID = uuid.NewString()
	if n.Status == "" {
		n.Status = "pending"
	}
	n.CreatedAt = m.now().UTC()
	m.notifications = append(m.notifications, n)
	return n, nil
}

func (m *MemoryStore) SetFamilyCredential(_ context.Context, parentID, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpSetFamilyCredential); err != nil {
		return err
	}
	if _, ok := m.credentials[parentID]; !ok {
		return store.NotFound("set family credential")
	}
	for other, cred := range m.credentials {
		if other != parentID && strings.EqualFold(cred, credential) {
			return store.Conflict("set family credential")
		}
	}
	m.credentials[parentID] = credential
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fault(OpPing)
}
