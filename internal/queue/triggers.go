package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SetOnline records connectivity. Going from offline to online starts a pass.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if was == online {
		return
	}
	if online {
		e.log.Info().Msg("connectivity restored")
		e.trigger("online")
		return
	}
	e.log.Warn().Msg("connectivity lost, queueing writes")
}

// Resume is called when the kiosk comes back to the foreground.
func (e *Engine) Resume() {
	e.mu.Lock()
	online := e.online
	e.mu.Unlock()
	if online {
		e.trigger("resume")
	}
}

// Triggers drives the engine from a schedule: a connectivity probe and a
// periodic sync pass. Redundant passes are harmless since SyncAll is
// single-flight.
type Triggers struct {
	engine       *Engine
	pinger       Pinger
	probeTimeout time.Duration
	cron         *cron.Cron
}

// NewTriggers schedules a probe every probeEvery (skipped when pinger is nil)
// and a sync pass every syncEvery. Intervals below one second are rounded up.
func NewTriggers(e *Engine, pinger Pinger, probeEvery, syncEvery time.Duration) (*Triggers, error) {
	t := &Triggers{
		engine:       e,
		pinger:       pinger,
		probeTimeout: 2 * time.Second,
		cron:         cron.New(),
	}
	if pinger != nil {
		if err := t.cron.AddFunc(every(probeEvery), t.Probe); err != nil {
			return nil, errors.Wrap(err, "queue: schedule probe")
		}
	}
	if err := t.cron.AddFunc(every(syncEvery), t.Tick); err != nil {
		return nil, errors.Wrap(err, "queue: schedule sync")
	}
	return t, nil
}

func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return fmt.Sprintf("@every %s", d)
}

// Start begins firing the schedule.
func (t *Triggers) Start() { t.cron.Start() }

// Stop halts the schedule. Passes already running finish on their own.
func (t *Triggers) Stop() { t.cron.Stop() }

// Probe pings the store once and updates the engine's connectivity.
func (t *Triggers) Probe() {
	if t.pinger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.probeTimeout)
	defer cancel()
	t.engine.SetOnline(t.pinger.Ping(ctx) == nil)
}

// Tick starts a periodic pass.
func (t *Triggers) Tick() { t.engine.trigger("timer") }
