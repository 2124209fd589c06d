package reminder

import "time"

type (
	// Clock is the loop's only source of time.
	Clock interface {
		Now() time.Time
		NewTimer(d time.Duration) Timer
	}

	// Timer is a one-shot timer. Stop reports whether it was still pending.
	Timer interface {
		C() <-chan time.Time
		Stop() bool
	}

	SystemClock struct{}

	systemTimer struct {
		t *time.Timer
	}
)

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

func (t *systemTimer) C() <-chan time.Time { return t.t.C }
func (t *systemTimer) Stop() bool          { return t.t.Stop() }

// ceilMillis rounds t up to the next whole millisecond.
func ceilMillis(t time.Time) time.Time {
	t = t.Round(0)
	if tr := t.Truncate(time.Millisecond); tr.Before(t) {
		return tr.Add(time.Millisecond)
	}
	return t
}
