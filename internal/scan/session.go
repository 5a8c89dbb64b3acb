package scan

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"dojoattend/internal/metrics"
)

// Session owns at most one open capture device and feeds decoded, debounced
// tokens to a callback.
type Session struct {
	camera   Camera
	decoder  FrameDecoder
	debounce *Debouncer
	log      zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	device   DeviceInfo
	parent   context.Context
	onDecode func(string)
	onError  func(error)
}

// NewSession wires a session. cooldown is the debounce window.
func NewSession(camera Camera, decoder FrameDecoder, cooldown time.Duration, log zerolog.Logger) *Session {
	return &Session{
		camera:   camera,
		decoder:  decoder,
		debounce: NewDebouncer(cooldown),
		log:      log.With().Str("component", "scan_session").Logger(),
	}
}

// ListDevices enumerates capture devices.
func (s *Session) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	return s.camera.Devices(ctx)
}

// Start opens target (or the preferred device when target is empty) and
// scans until Stop or ctx is done. onDecode is called serially from one
// goroutine, once per debounced token; it must not call Stop. Device failures
// are passed to onError and end the session without retrying.
func (s *Session) Start(ctx context.Context, target string, onDecode func(string), onError func(error)) error {
	s.Stop()
	if onError == nil {
		onError = func(error) {}
	}

	dev, capture, err := s.open(ctx, target)
	if err != nil {
		s.log.Error().Err(err).Str("target", target).Msg("open camera")
		onError(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel, s.done, s.device = cancel, done, dev
	s.parent, s.onDecode, s.onError = ctx, onDecode, onError
	s.mu.Unlock()

	s.debounce.Reset()
	s.log.Info().Str("device", dev.ID).Str("label", dev.Label).Msg("scanning")
	go s.loop(loopCtx, capture, done, onDecode, onError)
	return nil
}

func (s *Session) open(ctx context.Context, target string) (DeviceInfo, Capture, error) {
	devices, err := s.camera.Devices(ctx)
	if err != nil {
		return DeviceInfo{}, nil, err
	}
	var (
		dev DeviceInfo
		ok  bool
	)
	if target == "" {
		dev, ok = PreferredDevice(devices)
	} else {
		for _, d := range devices {
			if d.ID == target {
				dev, ok = d, true
				break
			}
		}
	}
	if !ok {
		if target != "" {
			return DeviceInfo{}, nil, errors.Wrapf(ErrNoCamera, "device %q", target)
		}
		return DeviceInfo{}, nil, ErrNoCamera
	}

	capture, err := s.camera.Open(ctx, dev.ID)
	if err != nil {
		return DeviceInfo{}, nil, err
	}
	return dev, capture, nil
}

// loop is the only owner of capture and closes it on exit.
func (s *Session) loop(ctx context.Context, capture Capture, done chan struct{}, onDecode func(string), onError func(error)) {
	defer close(done)
	defer func() {
		if err := capture.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close camera")
		}
	}()

	for ctx.Err() == nil {
		img, err := capture.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("camera failed")
			onError(err)
			return
		}

		token, err := s.decoder.Decode(img)
		if err != nil {
			if !errors.Is(err, ErrNoCode) {
				s.log.Debug().Err(err).Msg("decode frame")
			}
			continue
		}
		if !s.debounce.Allow(token) {
			continue
		}
		metrics.ScanDecodes.Inc()
		if onDecode != nil {
			onDecode(token)
		}
	}
}

// Stop ends scanning. The device is closed when Stop returns.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("scanning stopped")
}

// SwitchDevice restarts the session on another device with the same
// callbacks.
func (s *Session) SwitchDevice(deviceID string) error {
	s.mu.Lock()
	parent, onDecode, onError := s.parent, s.onDecode, s.onError
	s.mu.Unlock()

	if parent == nil {
		return errors.New("scan: session not started")
	}
	return s.Start(parent, deviceID, onDecode, onError)
}

// Scanning reports whether a device is open and being read.
func (s *Session) Scanning() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Device returns the device in use.
func (s *Session) Device() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}
