package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

// ErrNoDocument marks an archive without a data.json member.
var ErrNoDocument = errors.New("archive: no data.json member")

// legacyDocument is the old flat schema without session-id keying.
type legacyDocument struct {
	EventData    []domain.RenderEvent `json:"eventData"`
	ResponseData []domain.TraceEntry  `json:"responseData"`
}

// ParseDocument decodes a data.json payload. The current schema keys
// session data by session id; the legacy flat variant is detected here
// (and only here) and normalized by synthesizing a session id from the
// current timestamp.
func ParseDocument(raw []byte, now time.Time) (domain.ArchiveDocument, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	if isLegacy(probe) {
		var legacy legacyDocument
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("%w: legacy document: %v", ErrSerialize, err)
		}
		id := domain.SessionIDFromTraceTime(now.UnixMilli())
		return domain.ArchiveDocument{
			id: {EventData: legacy.EventData, ResponseData: legacy.ResponseData},
		}, nil
	}
	var doc domain.ArchiveDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return doc, nil
}

// isLegacy: a flat document carries eventData/responseData arrays at
// the top level; the session-keyed schema maps ids to objects.
func isLegacy(probe map[string]json.RawMessage) bool {
	for _, key := range []string{"eventData", "responseData"} {
		if v, ok := probe[key]; ok && len(bytes.TrimSpace(v)) > 0 && bytes.TrimSpace(v)[0] == '[' {
			return true
		}
	}
	return false
}

// Open extracts and parses data.json from a packaged archive.
func Open(archiveBytes []byte, now time.Time) (domain.ArchiveDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != DocumentName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: open member: %w", err)
		}
		raw, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("archive: read member: %w", err)
		}
		return ParseDocument(raw, now)
	}
	return nil, ErrNoDocument
}
