package attendance

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"dojoattend/internal/queue"
	"dojoattend/internal/store"
)

// Replayer applies queued writes to a Store. It is the offline queue's Writer.
type Replayer struct {
	store Store
}

// NewReplayer returns a Writer backed by st.
func NewReplayer(st Store) *Replayer {
	return &Replayer{store: st}
}

// Apply writes one queued item. Items that can never succeed (unknown type,
// undecodable payload) fail permanently.
func (r *Replayer) Apply(ctx context.Context, item queue.Item) error {
	switch item.Type {
	case queue.TypeAttendance:
		var p queue.AttendancePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return store.Permanent("replay attendance", err)
		}
		_, err := r.store.InsertAttendance(ctx, Record{
			StudentID:   p.StudentID,
			ClassID:     p.ClassID,
			CheckInTime: p.CheckInTime,
			Notes:       p.Notes,
			CreatedBy:   p.CreatedBy,
		})
		return err

	case queue.TypeStudentUpdate:
		var p queue.StudentUpdatePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return store.Permanent("replay student update", err)
		}
		return r.store.UpdateStudent(ctx, p.StudentID, p.Updates)

	case queue.TypeNotification:
		var p queue.NotificationPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return store.Permanent("replay notification", err)
		}
		_, err := r.store.InsertNotification(ctx, Notification{
			StudentID: p.StudentID,
			Template:  p.Template,
			Channel:   p.Channel,
			Payload:   p.Payload,
		})
		return err
	}
	return store.Permanent("replay", errors.Errorf("unknown item type %q", item.Type))
}
