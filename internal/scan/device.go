// Package scan runs a capture device and turns its frames into QR tokens.
package scan

import (
	"context"
	"image"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoCamera means no capture device is available.
	ErrNoCamera = errors.New("no camera found, connect a camera and try again")
	// ErrPermissionDenied means the device exists but cannot be opened.
	ErrPermissionDenied = errors.New("camera access denied, grant access and try again")
	// ErrClosed is returned by a Capture used after Close.
	ErrClosed = errors.New("capture closed")
)

// DeviceInfo identifies a capture device.
type DeviceInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Camera enumerates and opens capture devices.
type Camera interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, deviceID string) (Capture, error)
}

// Capture is an open device. Frame blocks until a frame is available or ctx
// is done.
type Capture interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

var rearHints = []string{"back", "rear", "environment"}

// PreferredDevice picks the rear-facing camera when a label says so, else the
// first device.
func PreferredDevice(devices []DeviceInfo) (DeviceInfo, bool) {
	if len(devices) == 0 {
		return DeviceInfo{}, false
	}
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		for _, hint := range rearHints {
			if strings.Contains(label, hint) {
				return d, true
			}
		}
	}
	return devices[0], true
}
