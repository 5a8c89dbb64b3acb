package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dojoattend/internal/store"
)

// SelectCurrent picks the class the front desk should check into: one in
// progress at now (the latest started if several overlap), else the nearest
// upcoming one, else none.
func SelectCurrent(classes []Class, now time.Time) (Class, bool) {
	var (
		current, next Class
		haveCurrent   bool
		haveNext      bool
	)
	for _, c := range classes {
		switch {
		case c.InProgress(now):
			if !haveCurrent || c.StartTime.After(current.StartTime) {
				current, haveCurrent = c, true
			}
		case c.StartTime.After(now):
			if !haveNext || c.StartTime.Before(next.StartTime) {
				next, haveNext = c, true
			}
		}
	}
	if haveCurrent {
		return current, true
	}
	return next, haveNext
}

// ClassSelector auto-selects the current class from the schedule. The last
// schedule it fetched is reused when the store is unreachable.
type ClassSelector struct {
	store     Store
	lookback  time.Duration
	lookahead time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu     sync.Mutex
	cached []Class
	have   bool
}

// NewClassSelector lists classes that started up to lookback ago or start
// within lookahead.
func NewClassSelector(st Store, lookback, lookahead time.Duration, log zerolog.Logger) *ClassSelector {
	if lookback <= 0 {
		lookback = 12 * time.Hour
	}
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	return &ClassSelector{
		store:     st,
		lookback:  lookback,
		lookahead: lookahead,
		now:       time.Now,
		log:       log.With().Str("component", "class_selector").Logger(),
	}
}

// Current returns the class to check into. ok is false when nothing is in
// progress or upcoming. err is only set when the schedule could not be read
// and nothing is cached.
func (s *ClassSelector) Current(ctx context.Context) (Class, bool, error) {
	now := s.now()
	classes, err := s.store.ListClasses(ctx, now.Add(-s.lookback), now.Add(s.lookahead))
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !store.IsTransient(err) || !s.have {
			return Class{}, false, err
		}
		s.log.Warn().Err(err).Int("classes", len(s.cached)).Msg("using cached schedule")
		classes = s.cached
	} else {
		s.cached, s.have = classes, true
	}
	c, ok := SelectCurrent(classes, now)
	return c, ok, nil
}
