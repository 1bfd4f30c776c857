package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fengjun-lin/web-reel-sub000/internal/archive"
	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
	"github.com/fengjun-lin/web-reel-sub000/internal/usecase"
)

// MaxArchiveBytes is the client-side payload cap. Oversized archives
// fail fast without touching the network.
const MaxArchiveBytes = 20 << 20

// DefaultUploadTimeout bounds one upload attempt.
const DefaultUploadTimeout = 5 * time.Minute

// ErrArchiveTooLarge is returned before any request is issued.
var ErrArchiveTooLarge = errors.New("transfer: archive exceeds 20 MiB upload limit")

// UploadError carries the sink's error message when it has one.
type UploadError struct {
	Status  int
	Message string
}

func (e *UploadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("transfer: upload failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("transfer: upload failed (status %d)", e.Status)
}

// Uploader ships packaged archives to the remote sink as one
// multipart request, reporting byte progress over the 50-100 half of
// the chained budget.
type Uploader struct {
	endpoint string
	hc       *http.Client
	timeout  time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewUploader(endpoint string, hc *http.Client, logger *zerolog.Logger) *Uploader {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Uploader{
		endpoint: endpoint,
		hc:       hc,
		timeout:  DefaultUploadTimeout,
		logger:   logger,
		now:      time.Now,
	}
}

type sinkResponse struct {
	Success bool               `json:"success"`
	Session *usecase.UploadAck `json:"session"`
	Error   string             `json:"error"`
}

func (u *Uploader) Upload(ctx context.Context, archiveBytes []byte, meta usecase.UploadMeta, onProgress func(domain.TransferProgress)) (*usecase.UploadAck, error) {
	if len(archiveBytes) > MaxArchiveBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrArchiveTooLarge, len(archiveBytes))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", archive.Name(u.now()))
	if err != nil {
		return nil, fmt.Errorf("transfer: build form: %w", err)
	}
	if _, err := part.Write(archiveBytes); err != nil {
		return nil, fmt.Errorf("transfer: build form: %w", err)
	}
	for field, value := range map[string]string{
		"platform":  meta.Platform,
		"device_id": meta.DeviceID,
		"jira_id":   meta.JiraID,
	} {
		if value == "" {
			continue
		}
		if err := mw.WriteField(field, value); err != nil {
			return nil, fmt.Errorf("transfer: build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("transfer: build form: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	total := int64(body.Len())
	reader := &progressReader{
		r: bytes.NewReader(body.Bytes()),
		report: func(sent int64) {
			if onProgress != nil {
				onProgress(domain.TransferProgress{
					Phase:   "transfer",
					Percent: 50 + 50*float64(sent)/float64(total),
				})
			}
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("transfer: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = total

	resp, err := u.hc.Do(req)
	if err != nil {
		return nil, &UploadError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var sr sinkResponse
	_ = json.Unmarshal(raw, &sr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UploadError{Status: resp.StatusCode, Message: sr.Error}
	}
	if !sr.Success {
		return nil, &UploadError{Status: resp.StatusCode, Message: sr.Error}
	}
	u.logger.Info().Int64("bytes", total).Msg("archive uploaded")
	return sr.Session, nil
}

// progressReader reports cumulative bytes handed to the HTTP client.
type progressReader struct {
	r      *bytes.Reader
	sent   int64
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent)
	}
	return n, err
}
