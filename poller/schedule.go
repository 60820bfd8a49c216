package poller

import (
	"time"

	"github.com/saiset-co/autoglean/types"
)

// Schedule is the adaptive delay between status queries. Early attempts are
// short so results served from the backend's own cache are picked up fast;
// later attempts back off for long model calls.
type Schedule struct {
	short          time.Duration
	medium         time.Duration
	long           time.Duration
	shortAttempts  int
	mediumAttempts int
	maxAttempts    int
}

func DefaultSchedule() Schedule {
	return Schedule{
		short:          500 * time.Millisecond,
		medium:         time.Second,
		long:           2 * time.Second,
		shortAttempts:  5,
		mediumAttempts: 15,
		maxAttempts:    60,
	}
}

// NewSchedule fills zero fields of config from DefaultSchedule.
func NewSchedule(config *types.PollerConfig) Schedule {
	s := DefaultSchedule()
	if config == nil {
		return s
	}

	if config.ShortDelay > 0 {
		s.short = config.ShortDelay
	}
	if config.MediumDelay > 0 {
		s.medium = config.MediumDelay
	}
	if config.LongDelay > 0 {
		s.long = config.LongDelay
	}
	if config.ShortAttempts > 0 {
		s.shortAttempts = config.ShortAttempts
	}
	if config.MediumAttempts > 0 {
		s.mediumAttempts = config.MediumAttempts
	}
	if config.MaxAttempts > 0 {
		s.maxAttempts = config.MaxAttempts
	}
	if s.mediumAttempts < s.shortAttempts {
		s.mediumAttempts = s.shortAttempts
	}

	return s
}

// Delay is the pause after the zero-based attempt.
func (s Schedule) Delay(attempt int) time.Duration {
	switch {
	case attempt < s.shortAttempts:
		return s.short
	case attempt < s.mediumAttempts:
		return s.medium
	default:
		return s.long
	}
}

func (s Schedule) MaxAttempts() int {
	return s.maxAttempts
}

// Budget is the total sleep of a poll that never reaches a terminal state.
// There is no pause after the last attempt.
func (s Schedule) Budget() time.Duration {
	var total time.Duration
	for attempt := 0; attempt < s.maxAttempts-1; attempt++ {
		total += s.Delay(attempt)
	}
	return total
}
