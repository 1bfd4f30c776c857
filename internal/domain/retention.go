package domain

import "time"

// RetentionPolicy is a signed day count: negative keeps data forever,
// zero keeps essentially nothing beyond the just-written grace window,
// positive N keeps N days.
type RetentionPolicy int

const (
	KeepForever RetentionPolicy = -1
	KeepNothing RetentionPolicy = 0
)

// Unbounded reports whether the sweep should never delete anything.
func (p RetentionPolicy) Unbounded() bool { return p < 0 }

// Cutoff returns the epoch-ms below which data is sweepable, anchored
// on the active session's trace time rather than wall-clock now so an
// offline session is never mid-deleted.
func (p RetentionPolicy) Cutoff(traceTime int64) int64 {
	if p.Unbounded() {
		return 0
	}
	return traceTime - int64(p)*24*time.Hour.Milliseconds()
}
