// Command kiosk runs a headless front-desk scanner: frames from a capture
// directory are decoded, debounced and checked in against the current class.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"dojoattend/internal/app"
	"dojoattend/internal/attendance"
	"dojoattend/internal/config"
	"dojoattend/internal/scan"
)

func main() {
	cfg := config.Load()
	log := app.Logger(cfg).With().Str("kiosk", cfg.KioskID).Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("kiosk failed")
	}
}

func run(cfg config.App, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := app.Build(ctx, cfg, cfg.KioskID, log)
	if err != nil {
		return err
	}
	defer core.Close()
	core.Start()

	// SIGUSR1 is sent by the display shell when the kiosk screen wakes up.
	resume := make(chan os.Signal, 1)
	signal.Notify(resume, syscall.SIGUSR1)
	defer signal.Stop(resume)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-resume:
				log.Info().Msg("resumed, syncing")
				core.Queue.Resume()
			}
		}
	}()

	// Scans are resolved one at a time in the session goroutine so the
	// outcomes come out in scan order.
	onDecode := func(token string) {
		out := core.Resolver.ResolveCheckIn(ctx, token, cfg.KioskClassID, "")
		ev := log.Info()
		if out.Status == attendance.StatusRejected {
			ev = log.Warn()
		}
		ev.Str("status", string(out.Status)).
			Strs("students", out.Names()).
			Int("queued", core.Queue.Status().QueueLength).
			Msg(out.Message())
	}
	failed := make(chan error, 1)
	onError := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	session := scan.NewSession(scan.NewDirCamera(cfg.CameraRoot, log), scan.NewZXingDecoder(), cfg.ScanCooldown, log)
	devices, err := session.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		log.Info().Str("device", d.ID).Str("label", d.Label).Msg("camera found")
	}
	if err := session.Start(ctx, cfg.CameraDevice, onDecode, onError); err != nil {
		return err
	}
	defer session.Stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	case err := <-failed:
		return err
	}
}
