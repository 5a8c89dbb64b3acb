package scan

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenImage is a frame that already knows what it encodes.
type tokenImage struct {
	image.Image
	token string
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(img image.Image) (string, error) {
	if ti, ok := img.(tokenImage); ok && ti.token != "" {
		return ti.token, nil
	}
	return "", ErrNoCode
}

type fakeCapture struct {
	frames chan image.Image
	fail   chan error

	mu     sync.Mutex
	closed bool
}

func (c *fakeCapture) Frame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.fail:
		return nil, err
	case img := <-c.frames:
		return img, nil
	}
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeCamera struct {
	devices  []DeviceInfo
	openErr  error
	mu       sync.Mutex
	opened   []string
	captures map[string]*fakeCapture
}

func newFakeCamera(devices ...DeviceInfo) *fakeCamera {
	cam := &fakeCamera{devices: devices, captures: map[string]*fakeCapture{}}
	for _, d := range devices {
		cam.captures[d.ID] = &fakeCapture{frames: make(chan image.Image), fail: make(chan error, 1)}
	}
	return cam
}

func (c *fakeCamera) Devices(context.Context) ([]DeviceInfo, error) { return c.devices, nil }

func (c *fakeCamera) Open(_ context.Context, id string) (Capture, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.mu.Lock()
	c.opened = append(c.opened, id)
	c.mu.Unlock()
	return c.captures[id], nil
}

type recorder struct {
	mu     sync.Mutex
	tokens []string
	errs   []error
}

func (r *recorder) onDecode(tok string) {
	r.mu.Lock()
	r.tokens = append(r.tokens, tok)
	r.mu.Unlock()
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func frame(token string) image.Image {
	return tokenImage{Image: image.NewGray(image.Rect(0, 0, 1, 1)), token: token}
}

func TestSessionDeliversDebouncedTokens(t *testing.T) {
	cam := newFakeCamera(DeviceInfo{ID: "front", Label: "Front"}, DeviceInfo{ID: "rear", Label: "Rear Camera"})
	s := NewSession(cam, fakeDecoder{}, time.Hour, zerolog.Nop())
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), "", rec.onDecode, rec.onError))
	assert.True(t, s.Scanning())
	assert.Equal(t, "rear", s.Device().ID)

	c := cam.captures["rear"]
	c.frames <- frame("T")
	c.frames <- frame("T")
	c.frames <- frame("")
	c.frames <- frame("T2")
	c.frames <- frame("T")

	s.Stop()
	assert.Equal(t, []string{"T", "T2", "T"}, rec.got())
	assert.True(t, c.isClosed())
	assert.False(t, s.Scanning())
}

func TestSessionStopClosesDeviceWhileFrameInFlight(t *testing.T) {
	cam := newFakeCamera(DeviceInfo{ID: "cam0"})
	s := NewSession(cam, fakeDecoder{}, time.Second, zerolog.Nop())

	require.NoError(t, s.Start(context.Background(), "cam0", nil, nil))
	s.Stop()

	assert.True(t, cam.captures["cam0"].isClosed())
	s.Stop()
}

func TestSessionSwitchDevice(t *testing.T) {
	cam := newFakeCamera(DeviceInfo{ID: "a"}, DeviceInfo{ID: "b"})
	s := NewSession(cam, fakeDecoder{}, time.Second, zerolog.Nop())
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), "a", rec.onDecode, rec.onError))
	require.NoError(t, s.SwitchDevice("b"))

	assert.True(t, cam.captures["a"].isClosed())
	assert.Equal(t, "b", s.Device().ID)
	cam.captures["b"].frames <- frame("T")
	s.Stop()
	assert.Equal(t, []string{"T"}, rec.got())
	assert.Equal(t, []string{"a", "b"}, cam.opened)
}

func TestSessionDeviceErrors(t *testing.T) {
	rec := &recorder{}

	s := NewSession(newFakeCamera(), fakeDecoder{}, time.Second, zerolog.Nop())
	err := s.Start(context.Background(), "", rec.onDecode, rec.onError)
	assert.ErrorIs(t, err, ErrNoCamera)

	s = NewSession(newFakeCamera(DeviceInfo{ID: "a"}), fakeDecoder{}, time.Second, zerolog.Nop())
	err = s.Start(context.Background(), "missing", rec.onDecode, rec.onError)
	assert.ErrorIs(t, err, ErrNoCamera)

	cam := newFakeCamera(DeviceInfo{ID: "a"})
	cam.openErr = errors.Wrap(ErrPermissionDenied, "open /dev/video0")
	s = NewSession(cam, fakeDecoder{}, time.Second, zerolog.Nop())
	err = s.Start(context.Background(), "", rec.onDecode, rec.onError)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, s.Scanning())

	rec.mu.Lock()
	assert.Len(t, rec.errs, 3)
	rec.mu.Unlock()
}

func TestSessionEndsOnCaptureFailure(t *testing.T) {
	cam := newFakeCamera(DeviceInfo{ID: "a"})
	s := NewSession(cam, fakeDecoder{}, time.Second, zerolog.Nop())
	errs := make(chan error, 1)

	require.NoError(t, s.Start(context.Background(), "", nil, func(err error) { errs <- err }))
	cam.captures["a"].fail <- errors.New("device unplugged")

	select {
	case err := <-errs:
		assert.EqualError(t, err, "device unplugged")
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
	assert.Eventually(t, func() bool { return !s.Scanning() }, time.Second, 5*time.Millisecond)
	assert.True(t, cam.captures["a"].isClosed())
	s.Stop()
}

type slowDecoder struct{ delay time.Duration }

func (d slowDecoder) Decode(image.Image) (string, error) {
	time.Sleep(d.delay)
	return "", ErrNoCode
}

func TestSessionStopWhileFramesKeepArriving(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "cam0")
	require.NoError(t, os.Mkdir(dir, 0o755))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	data := buf.Bytes()

	// The grabber outpaces the decoder so a frame is always waiting.
	grabbing := make(chan struct{})
	grabberDone := make(chan struct{})
	go func() {
		defer close(grabberDone)
		for i := 0; ; i++ {
			select {
			case <-grabbing:
				return
			case <-time.After(10 * time.Millisecond):
			}
			name := fmt.Sprintf("%06d.png", i)
			tmp := filepath.Join(dir, "."+name)
			if os.WriteFile(tmp, data, 0o644) == nil {
				_ = os.Rename(tmp, filepath.Join(dir, name))
			}
		}
	}()
	defer func() {
		close(grabbing)
		<-grabberDone
	}()

	s := NewSession(NewDirCamera(root, zerolog.Nop()), slowDecoder{delay: 20 * time.Millisecond}, time.Second, zerolog.Nop())
	require.NoError(t, s.Start(context.Background(), "cam0", nil, nil))
	time.Sleep(200 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while frames kept arriving")
	}
	assert.False(t, s.Scanning())
}
