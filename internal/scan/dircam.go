package scan

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DirCamera exposes frame directories as capture devices. Every
// sub-directory of Root is one device; an external grabber writes PNG or JPEG
// frames into it and each frame is removed once read. A file named "label"
// in the directory overrides the device label. Grabbers should write frames
// under a dot-prefixed name and rename them into place.
type DirCamera struct {
	Root string
	// Poll is the fallback rescan interval when no file event arrives.
	Poll time.Duration
	Log  zerolog.Logger
}

// NewDirCamera returns a camera rooted at root.
func NewDirCamera(root string, log zerolog.Logger) *DirCamera {
	return &DirCamera{Root: root, Poll: 250 * time.Millisecond, Log: log}
}

func deviceError(err error) error {
	switch {
	case os.IsNotExist(err):
		return errors.Wrap(ErrNoCamera, err.Error())
	case os.IsPermission(err):
		return errors.Wrap(ErrPermissionDenied, err.Error())
	}
	return err
}

// Devices lists the frame directories in name order.
func (c *DirCamera) Devices(_ context.Context) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		return nil, deviceError(err)
	}
	var devices []DeviceInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		label := e.Name()
		if b, err := os.ReadFile(filepath.Join(c.Root, e.Name(), "label")); err == nil {
			if l := strings.TrimSpace(string(b)); l != "" {
				label = l
			}
		}
		devices = append(devices, DeviceInfo{ID: e.Name(), Label: label})
	}
	return devices, nil
}

// Open starts reading frames from the device directory.
func (c *DirCamera) Open(_ context.Context, deviceID string) (Capture, error) {
	dir := filepath.Join(c.Root, filepath.Base(deviceID))
	f, err := os.Open(dir)
	if err != nil {
		return nil, deviceError(err)
	}
	f.Close()

	poll := c.Poll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	dc := &dirCapture{dir: dir, poll: poll, log: c.Log}
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(dir); err == nil {
			dc.watcher = w
		} else {
			w.Close()
		}
	}
	if dc.watcher == nil {
		c.Log.Debug().Str("dir", dir).Msg("file events unavailable, polling")
	}
	return dc, nil
}

type dirCapture struct {
	dir     string
	poll    time.Duration
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

func isFrame(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// next returns the oldest frame by name, or "" when none is waiting.
func (d *dirCapture) next() (string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return "", deviceError(err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isFrame(e.Name()) && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(d.dir, names[0]), nil
}

func (d *dirCapture) read(path string) (image.Image, error) {
	defer os.Remove(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func (d *dirCapture) Frame(ctx context.Context) (image.Image, error) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if d.watcher != nil {
		events, errs = d.watcher.Events, d.watcher.Errors
	}
	for {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := d.next()
		if err != nil {
			return nil, err
		}
		if path != "" {
			img, err := d.read(path)
			if err == nil {
				return img, nil
			}
			// Half-written or foreign files are skipped.
			d.log.Debug().Err(err).Str("frame", path).Msg("skip unreadable frame")
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-events:
		case err := <-errs:
			if err != nil {
				d.log.Debug().Err(err).Msg("watch frames")
			}
		case <-time.After(d.poll):
		}
	}
}

func (d *dirCapture) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}
