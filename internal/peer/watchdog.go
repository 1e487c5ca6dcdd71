package peer

import "time"

// DefaultTimeout bounds the time from session start to the first open
// data channel.
const DefaultTimeout = 30 * time.Second

// watchdog is owned by the session loop. It fires at most once, and never
// after disarm.
type watchdog struct {
	timer   *time.Timer
	expired <-chan time.Time
}

func newWatchdog(deadline time.Duration) *watchdog {
	if deadline <= 0 {
		deadline = DefaultTimeout
	}
	t := time.NewTimer(deadline)
	return &watchdog{timer: t, expired: t.C}
}

// C returns the expiry channel, or nil once disarmed.
func (w *watchdog) C() <-chan time.Time { return w.expired }

func (w *watchdog) disarm() {
	w.timer.Stop()
	w.expired = nil
}
