package usecase

import (
	"context"
	"fmt"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

// Packager turns one session's buffered data into a compressed
// archive, reporting progress over the first half of the 0-100 budget.
type Packager interface {
	Package(ctx context.Context, doc domain.ArchiveDocument, onProgress func(domain.TransferProgress)) ([]byte, error)
}

// Uploader ships a packaged archive to the remote sink, reporting
// progress over the second half of the budget.
type Uploader interface {
	Upload(ctx context.Context, archive []byte, meta UploadMeta, onProgress func(domain.TransferProgress)) (*UploadAck, error)
}

type UploadMeta struct {
	Platform string
	DeviceID string
	JiraID   string
}

// UploadAck is the sink's structured acknowledgment.
type UploadAck struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

type RecorderService struct {
	sessions SessionRepository
	events   EventRepository
	entries  EntryRepository
	packager Packager
	uploader Uploader
}

func NewRecorderService(s SessionRepository, ev EventRepository, en EntryRepository, p Packager, u Uploader) *RecorderService {
	return &RecorderService{sessions: s, events: ev, entries: en, packager: p, uploader: u}
}

func (r *RecorderService) Create(ctx context.Context, sess domain.Session) error {
	return r.sessions.CreateSession(ctx, sess)
}

func (r *RecorderService) Get(ctx context.Context, id string) (domain.Session, bool, error) {
	return r.sessions.GetSession(ctx, id)
}

func (r *RecorderService) List(ctx context.Context) ([]domain.Session, error) {
	return r.sessions.ListSessions(ctx)
}

func (r *RecorderService) Delete(ctx context.Context, id string) error {
	return r.sessions.DeleteSession(ctx, id)
}

func (r *RecorderService) ClearAll(ctx context.Context) error {
	return r.sessions.ClearAll(ctx)
}

func (r *RecorderService) AddEvents(ctx context.Context, sessionID string, events []domain.RenderEvent) error {
	return r.events.AppendEvents(ctx, sessionID, events)
}

func (r *RecorderService) AddEntry(ctx context.Context, sessionID string, e domain.TraceEntry) error {
	return r.entries.AppendEntry(ctx, sessionID, e)
}

func (r *RecorderService) ListEvents(ctx context.Context, sessionID string) ([]domain.RenderEvent, error) {
	return r.events.ListEvents(ctx, sessionID)
}

func (r *RecorderService) ListEntries(ctx context.Context, sessionID string) ([]domain.TraceEntry, error) {
	return r.entries.ListEntries(ctx, sessionID)
}

// Snapshot borrows a read snapshot of one session's buffered data in
// archive-document form.
func (r *RecorderService) Snapshot(ctx context.Context, sessionID string) (domain.ArchiveDocument, error) {
	events, err := r.events.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	entries, err := r.entries.ListEntries(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	return domain.ArchiveDocument{
		sessionID: {EventData: events, ResponseData: entries},
	}, nil
}

// Export packages one session and uploads the archive. Compression
// progress maps to 0-50, transfer to 50-100. On a successful upload
// the session's buffered data is deleted.
func (r *RecorderService) Export(ctx context.Context, sessionID string, meta UploadMeta, onProgress func(domain.TransferProgress)) (*UploadAck, error) {
	doc, err := r.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	archive, err := r.packager.Package(ctx, doc, onProgress)
	if err != nil {
		return nil, err
	}
	ack, err := r.uploader.Upload(ctx, archive, meta, onProgress)
	if err != nil {
		return nil, err
	}
	if err := r.sessions.DeleteSession(ctx, sessionID); err != nil {
		return ack, fmt.Errorf("uploaded but local cleanup failed: %w", err)
	}
	return ack, nil
}
