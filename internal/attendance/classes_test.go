package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dojoattend/internal/store"
)

func TestSelectCurrent(t *testing.T) {
	now := time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)
	at := func(d time.Duration) time.Time { return now.Add(d) }

	past := Class{ID: "past", StartTime: at(-3 * time.Hour), EndTime: at(-2 * time.Hour)}
	running := Class{ID: "running", StartTime: at(-30 * time.Minute), EndTime: at(30 * time.Minute)}
	lateStart := Class{ID: "late-start", StartTime: at(-5 * time.Minute), EndTime: at(time.Hour)}
	soon := Class{ID: "soon", StartTime: at(15 * time.Minute), EndTime: at(75 * time.Minute)}
	later := Class{ID: "later", StartTime: at(2 * time.Hour), EndTime: at(3 * time.Hour)}
	endsNow := Class{ID: "ends-now", StartTime: at(-time.Hour), EndTime: now}

	tests := []struct {
		name    string
		classes []Class
		want    string
	}{
		{"in progress beats upcoming", []Class{soon, running, later}, "running"},
		{"latest start among overlapping", []Class{running, lateStart}, "late-start"},
		{"nearest upcoming", []Class{later, past, soon}, "soon"},
		{"end is inclusive", []Class{endsNow, soon}, "ends-now"},
		{"only past", []Class{past}, ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectCurrent(tt.classes, now)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestClassSelectorFallsBackToCachedSchedule(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now()
	c := st.AddClass(Class{StartTime: now.Add(-10 * time.Minute), EndTime: now.Add(50 * time.Minute)})
	sel := NewClassSelector(st, time.Hour, time.Hour, zerolog.Nop())
	ctx := context.Background()

	got, ok, err := sel.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)

	st.SetFault(OpListClasses, store.E(store.KindTransient, "list classes", errors.New("i/o timeout")))
	got, ok, err = sel.Current(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c.ID, got.ID)

	st.SetFault(OpListClasses, store.Permanent("list classes", errors.New("relation does not exist")))
	_, _, err = sel.Current(ctx)
	assert.Error(t, err)
}

func TestClassSelectorWithoutCache(t *testing.T) {
	st := NewMemoryStore()
	st.SetFault(OpListClasses, store.E(store.KindTransient, "list classes", errors.New("i/o timeout")))
	sel := NewClassSelector(st, 0, 0, zerolog.Nop())

	_, ok, err := sel.Current(context.Background())
	assert.False(t, ok)
	assert.True(t, store.IsTransient(err))
}
