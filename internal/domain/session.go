package domain

import (
	"strconv"
	"time"
)

// Session is one logical recording. Its identity is the trace time:
// the epoch-ms at which the recorder started, monotonically increasing
// across recordings on the same device.
type Session struct {
	ID         string    `json:"id"`
	TraceTime  int64     `json:"traceTime"` // epoch ms, session start
	StartedAt  time.Time `json:"startedAt"`
	Platform   string    `json:"platform,omitempty"`
	DeviceID   string    `json:"deviceId,omitempty"`
	EventCount int       `json:"eventCount"`
	EntryCount int       `json:"entryCount"`
}

// NewSession creates a session whose id is derived from its trace time.
func NewSession(startedAt time.Time) Session {
	ts := startedAt.UnixMilli()
	return Session{
		ID:        SessionIDFromTraceTime(ts),
		TraceTime: ts,
		StartedAt: startedAt,
	}
}

// SessionIDFromTraceTime renders a trace time as the session id used
// to key archive documents and store partitions.
func SessionIDFromTraceTime(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

// TraceTimeFromSessionID parses a session id back into its trace time.
func TraceTimeFromSessionID(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}
