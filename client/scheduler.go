package client

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// refreshScheduler owns the single proactive-refresh timer.
// All methods are called with the Manager's lock held.
type refreshScheduler struct {
	clock  clockwork.Clock
	margin time.Duration
	floor  time.Duration
	log    zerolog.Logger

	// onFire runs on the timer goroutine, without the lock.
	onFire func(seq, generation uint64)

	timer clockwork.Timer
	seq   uint64
}

// arm cancels any pending timer and schedules a refresh for creds.
// Nothing is scheduled when the access token carries no expiry, or when there is
// no refresh token to spend.
func (s *refreshScheduler) arm(creds Credentials, generation uint64) (time.Duration, bool) {
	s.disarm()

	if !creds.HasAccessToken() || !creds.HasRefreshToken() {
		return 0, false
	}
	expiry, ok := DecodeExpiry(creds.AccessToken)
	if !ok {
		s.log.Debug().Msg("access token has no readable expiry, not scheduling refresh")
		return 0, false
	}

	delay := RefreshDelay(expiry, s.clock.Now(), s.margin, s.floor)
	seq := s.seq
	s.timer = s.clock.AfterFunc(delay, func() {
		s.onFire(seq, generation)
	})
	s.log.Debug().Dur("delay", delay).Time("expiry", expiry).Msg("proactive refresh armed")
	return delay, true
}

// disarm stops the pending timer. Bumping seq invalidates a callback that
// already started running.
func (s *refreshScheduler) disarm() {
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// claim marks the timer armed under seq as fired.
// It returns false when that timer has since been replaced or cancelled.
func (s *refreshScheduler) claim(seq uint64) bool {
	if seq != s.seq || s.timer == nil {
		return false
	}
	s.timer = nil
	return true
}

func (s *refreshScheduler) pending() bool {
	return s.timer != nil
}
