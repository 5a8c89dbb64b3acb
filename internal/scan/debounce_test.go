package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDebouncer(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)}
	d := NewDebouncer(3 * time.Second)
	d.now = clock.now

	assert.True(t, d.Allow("T"))
	clock.advance(time.Second)
	assert.False(t, d.Allow("T"), "same token inside cooldown")

	assert.True(t, d.Allow("T2"), "different token passes immediately")
	assert.True(t, d.Allow("T"), "switching back resets the window")

	clock.advance(2 * time.Second)
	assert.False(t, d.Allow("T"))
	clock.advance(time.Second)
	assert.True(t, d.Allow("T"), "cooldown elapsed")
}

func TestDebouncerSuppressedScansDoNotExtendWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	d := NewDebouncer(3 * time.Second)
	d.now = clock.now

	assert.True(t, d.Allow("T"))
	for i := 0; i < 5; i++ {
		clock.advance(500 * time.Millisecond)
		assert.False(t, d.Allow("T"))
	}
	clock.advance(500 * time.Millisecond)
	assert.True(t, d.Allow("T"))
}

func TestDebouncerReset(t *testing.T) {
	d := NewDebouncer(time.Hour)
	assert.True(t, d.Allow("T"))
	d.Reset()
	assert.True(t, d.Allow("T"))
}

func TestPreferredDevice(t *testing.T) {
	front := DeviceInfo{ID: "0", Label: "FaceTime HD Camera"}
	rear := DeviceInfo{ID: "1", Label: "Back Camera"}
	env := DeviceInfo{ID: "2", Label: "camera2 0, facing environment"}

	got, ok := PreferredDevice([]DeviceInfo{front, rear})
	assert.True(t, ok)
	assert.Equal(t, rear, got)

	got, _ = PreferredDevice([]DeviceInfo{front, env})
	assert.Equal(t, env, got)

	got, _ = PreferredDevice([]DeviceInfo{front})
	assert.Equal(t, front, got)

	_, ok = PreferredDevice(nil)
	assert.False(t, ok)
}
