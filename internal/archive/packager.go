package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

// DocumentName is the single member inside every archive.
const DocumentName = "data.json"

// ErrSerialize marks a document that could not be serialized. The
// caller gets a typed failure, never a partial archive.
var ErrSerialize = errors.New("archive: document serialization failed")

// progressChunk is the write granularity driving compression progress
// callbacks.
const progressChunk = 256 << 10

// Packager serializes buffered session data into data.json and
// compresses it into a zip archive. Compression is deterministic:
// maximum-ratio deflate, fixed member metadata.
type Packager struct {
	maxEvents int
	logger    *zerolog.Logger
}

func NewPackager(maxEvents int, logger *zerolog.Logger) *Packager {
	if maxEvents <= 0 {
		maxEvents = 5000
	}
	return &Packager{maxEvents: maxEvents, logger: logger}
}

// Package builds the archive for a document. Progress is reported on
// the compress phase over 0-50 of the chained compress+transfer budget.
func (p *Packager) Package(ctx context.Context, doc domain.ArchiveDocument, onProgress func(domain.TransferProgress)) ([]byte, error) {
	capped := p.capDocument(doc)

	raw, err := json.Marshal(capped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})
	member, err := zw.CreateHeader(&zip.FileHeader{
		Name:     DocumentName,
		Method:   zip.Deflate,
		Modified: time.Unix(0, 0).UTC(), // fixed for byte-stable output
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create member: %w", err)
	}

	total := len(raw)
	written := 0
	for written < total {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("archive: canceled: %w", err)
		}
		end := written + progressChunk
		if end > total {
			end = total
		}
		if _, err := member.Write(raw[written:end]); err != nil {
			return nil, fmt.Errorf("archive: compress: %w", err)
		}
		written = end
		if onProgress != nil {
			onProgress(domain.TransferProgress{
				Phase:   "compress",
				Percent: 50 * float64(written) / float64(total),
			})
		}
	}
	if total == 0 && onProgress != nil {
		onProgress(domain.TransferProgress{Phase: "compress", Percent: 50})
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: finalize: %w", err)
	}
	p.logger.Debug().Int("raw", total).Int("compressed", buf.Len()).Msg("session packaged")
	return buf.Bytes(), nil
}

// capDocument re-applies the store's render-event cap before
// serialization, keeping the most recent events.
func (p *Packager) capDocument(doc domain.ArchiveDocument) domain.ArchiveDocument {
	out := make(domain.ArchiveDocument, len(doc))
	for id, data := range doc {
		if n := len(data.EventData); n > p.maxEvents {
			p.logger.Warn().Str("session", id).Int("dropped", n-p.maxEvents).
				Msg("render-event array over cap at package time")
			data.EventData = data.EventData[n-p.maxEvents:]
		}
		out[id] = data
	}
	return out
}

// Name returns the upload file name for an archive packaged now.
func Name(now time.Time) string {
	return fmt.Sprintf("record-%d.zip", now.UnixMilli())
}
