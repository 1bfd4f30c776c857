package usecase

import (
	"context"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

type SessionRepository interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, bool, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	// DeleteSession removes the session and both of its partitions.
	DeleteSession(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}

type EventRepository interface {
	// AppendEvents is durable before it returns: the write that
	// produced the triggering render event must not outlive a crash.
	AppendEvents(ctx context.Context, sessionID string, events []domain.RenderEvent) error
	ListEvents(ctx context.Context, sessionID string) ([]domain.RenderEvent, error)
	DeleteEvents(ctx context.Context, sessionID string) error
}

type EntryRepository interface {
	AppendEntry(ctx context.Context, sessionID string, e domain.TraceEntry) error
	ListEntries(ctx context.Context, sessionID string) ([]domain.TraceEntry, error)
	DeleteEntries(ctx context.Context, sessionID string) error
}

// RetentionSweeper runs one sweep against the policy, anchored on the
// active session's trace time. Returns the number of sessions dropped.
type RetentionSweeper interface {
	Sweep(ctx context.Context, policy domain.RetentionPolicy, activeTraceTime int64) (int, error)
}
