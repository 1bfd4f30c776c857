package interceptor

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
	"github.com/fengjun-lin/web-reel-sub000/pkg/shared/redact"
)

// Sink receives every captured entry. It runs off the request path:
// it may be slow, it may panic, the original call never notices.
type Sink func(domain.TraceEntry)

// IgnoreFunc filters outbound calls that must not self-record
// (the recorder's own upload/API traffic).
type IgnoreFunc func(*http.Request) bool

type Options struct {
	// MaxBodyBytes caps the captured request/response body text.
	// The wire traffic itself is never truncated.
	MaxBodyBytes int
	Ignore       IgnoreFunc
}

const DefaultMaxBodyBytes = 1 << 20

// Transport decorates an http.RoundTripper and emits one TraceEntry
// per outbound call, success or failure. All outbound HTTP in the
// recorder goes through an *http.Client; interception is this wrapper,
// not a patch of any global.
type Transport struct {
	inner  http.RoundTripper
	sink   Sink
	opts   Options
	logger *zerolog.Logger
}

func NewTransport(inner http.RoundTripper, sink Sink, opts Options, logger *zerolog.Logger) *Transport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Transport{inner: inner, sink: sink, opts: opts, logger: logger}
}

// Install wraps the client's transport in place. Re-installing over an
// already-wrapped client is a no-op with a warning.
func Install(client *http.Client, sink Sink, opts Options, logger *zerolog.Logger) {
	if _, ok := client.Transport.(*Transport); ok {
		logger.Warn().Msg("interceptor already installed, ignoring re-install")
		return
	}
	client.Transport = NewTransport(client.Transport, sink, opts, logger)
}

// Uninstall restores the client's original transport exactly, however
// many install/uninstall cycles have run.
func Uninstall(client *http.Client) {
	if t, ok := client.Transport.(*Transport); ok {
		if t.inner == http.DefaultTransport {
			client.Transport = nil
			return
		}
		client.Transport = t.inner
	}
}

type kindKey struct{}

// WithKind tags a request context with the transport kind recorded on
// its entry. The convenience Client uses it to mark fetch-style calls.
func WithKind(ctx context.Context, kind domain.TransportKind) context.Context {
	return context.WithValue(ctx, kindKey{}, kind)
}

func kindFrom(ctx context.Context) domain.TransportKind {
	if k, ok := ctx.Value(kindKey{}).(domain.TransportKind); ok {
		return k
	}
	return domain.TransportRoundTrip
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.opts.Ignore != nil && t.opts.Ignore(req) {
		return t.inner.RoundTrip(req)
	}

	correlationID := uuid.NewString()
	started := time.Now()

	entry := domain.TraceEntry{
		ID:              correlationID,
		StartedDateTime: started.UTC(),
		Transport:       kindFrom(req.Context()),
	}
	entry.Request = t.buildRequest(req)

	resp, err := t.inner.RoundTrip(req)
	entry.Time = time.Since(started).Milliseconds()

	if err != nil {
		// Transport failure: status 0 is reserved for exactly this.
		entry.Response = domain.TraceResponse{
			Status:      0,
			StatusText:  err.Error(),
			Cookies:     []domain.KV{},
			Headers:     []domain.KV{},
			HeadersSize: domain.SizeNotComputed,
			BodySize:    domain.SizeNotComputed,
		}
		t.emit(correlationID, entry)
		return resp, err
	}

	entry.Response = t.buildResponse(resp)
	t.emit(correlationID, entry)
	return resp, nil
}

func (t *Transport) buildRequest(req *http.Request) domain.TraceRequest {
	out := domain.TraceRequest{
		Method:      strings.ToUpper(req.Method),
		URL:         req.URL.String(),
		HTTPVersion: req.Proto,
		Cookies:     cookiePairs(req.Cookies()),
		Headers:     headerPairs(req.Header),
		QueryString: queryPairs(req.URL.RawQuery),
		HeadersSize: domain.SizeNotComputed,
		BodySize:    domain.SizeNotComputed,
	}
	if req.Body != nil && req.Body != http.NoBody {
		if text, ok := t.captureRequestBody(req); ok {
			mime := req.Header.Get("Content-Type")
			if strings.Contains(mime, "json") {
				text = redact.JSON(text)
			}
			out.PostData = &domain.PostData{
				MimeType: mime,
				Text:     text,
			}
		}
	}
	return out
}

// captureRequestBody snapshots the outgoing body without disturbing
// the request. GetBody gives a free copy when available; otherwise the
// body is drained and replaced with an equivalent reader.
func (t *Transport) captureRequestBody(req *http.Request) (string, bool) {
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return "", false
		}
		defer rc.Close()
		capped, _ := io.ReadAll(io.LimitReader(rc, int64(t.opts.MaxBodyBytes)))
		return string(capped), true
	}
	full, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return "", false
	}
	req.Body = io.NopCloser(bytes.NewReader(full))
	if len(full) > t.opts.MaxBodyBytes {
		full = full[:t.opts.MaxBodyBytes]
	}
	return string(full), true
}

func (t *Transport) buildResponse(resp *http.Response) domain.TraceResponse {
	out := domain.TraceResponse{
		Status:      resp.StatusCode,
		StatusText:  http.StatusText(resp.StatusCode),
		HTTPVersion: resp.Proto,
		Cookies:     []domain.KV{},
		Headers:     headerPairs(resp.Header),
		HeadersSize: domain.SizeNotComputed,
		BodySize:    domain.SizeNotComputed,
	}
	out.Content = domain.Content{MimeType: resp.Header.Get("Content-Type")}
	if resp.Body != nil {
		peeked, rest := peekBody(resp.Body, t.opts.MaxBodyBytes)
		resp.Body = rest
		out.Content.Size = len(peeked)
		if isTextBody(out.Content.MimeType, peeked) {
			out.Content.Text = string(peeked)
		} else {
			out.Content.Text = base64.StdEncoding.EncodeToString(peeked)
			out.Content.Encoding = "base64"
		}
	}
	return out
}

// isTextBody decides whether a captured body can be stored verbatim.
// Binary payloads go through base64 (HAR content.encoding); invalid
// UTF-8 must never reach the JSON document as raw text.
func isTextBody(mime string, body []byte) bool {
	if !utf8.Valid(body) {
		return false
	}
	m := strings.ToLower(mime)
	if m == "" || strings.HasPrefix(m, "text/") {
		return true
	}
	for _, marker := range []string{"json", "xml", "javascript", "html", "urlencoded", "svg"} {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// peekBody reads up to limit bytes for the capture and returns a body
// that replays them ahead of the unread remainder, so the caller still
// sees the complete stream.
func peekBody(body io.ReadCloser, limit int) ([]byte, io.ReadCloser) {
	peeked, err := io.ReadAll(io.LimitReader(body, int64(limit)))
	if err != nil {
		return peeked, body
	}
	return peeked, &replayReader{
		Reader: io.MultiReader(bytes.NewReader(peeked), body),
		closer: body,
	}
}

type replayReader struct {
	io.Reader
	closer io.Closer
}

func (r *replayReader) Close() error { return r.closer.Close() }

// emit hands the entry to the sink on its own goroutine. A sink panic
// is logged and swallowed: capture must never break the traced call.
func (t *Transport) emit(correlationID string, entry domain.TraceEntry) {
	if t.sink == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error().Str("correlation", correlationID).Interface("panic", r).
					Msg("trace sink panicked, entry dropped")
			}
		}()
		t.sink(entry)
	}()
}
