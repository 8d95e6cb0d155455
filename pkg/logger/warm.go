package logger

import (
	"sync/atomic"
	"time"
)

// WarmState records whether the current process has served work before.
// It is constructed exactly once per process by the fx container and handed to
// the components that want to annotate their first unit of work; it is never
// mutated mid-request and never reset.
type WarmState struct {
	startedAt time.Time
	warm      atomic.Bool
}

func NewWarmState() *WarmState {
	return &WarmState{startedAt: time.Now()}
}

// MarkWarm flips the state to warm and reports whether this call was the cold
// one. Exactly one caller per process observes true.
func (w *WarmState) MarkWarm() bool {
	return w.warm.CompareAndSwap(false, true)
}

// Warm reports the state without changing it.
func (w *WarmState) Warm() bool {
	return w.warm.Load()
}

// Uptime is the time since process construction.
func (w *WarmState) Uptime() time.Duration {
	return time.Since(w.startedAt)
}
