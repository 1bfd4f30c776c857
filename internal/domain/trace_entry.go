package domain

import "time"

// TransportKind distinguishes which client primitive produced a capture.
type TransportKind string

const (
	// TransportRoundTrip is the low-level request-object path.
	TransportRoundTrip TransportKind = "roundtrip"
	// TransportClient is the high-level fetch-style convenience call.
	TransportClient TransportKind = "client"
)

// KV is an ordered name/value pair (headers, cookies, query params).
type KV struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
	// Encoding is "base64" when Text carries a binary body, per HAR 1.2.
	Encoding string `json:"encoding,omitempty"`
}

type TraceRequest struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	HTTPVersion string    `json:"httpVersion"`
	Cookies     []KV      `json:"cookies"`
	Headers     []KV      `json:"headers"`
	QueryString []KV      `json:"queryString"`
	PostData    *PostData `json:"postData,omitempty"`
	HeadersSize int       `json:"headersSize"`
	BodySize    int       `json:"bodySize"`
}

type TraceResponse struct {
	// Status is 0 only when the call never reached a server
	// (DNS failure, refused connection, abort). A real HTTP error
	// keeps its real status.
	Status      int     `json:"status"`
	StatusText  string  `json:"statusText"`
	HTTPVersion string  `json:"httpVersion"`
	Cookies     []KV    `json:"cookies"`
	Headers     []KV    `json:"headers"`
	Content     Content `json:"content"`
	HeadersSize int     `json:"headersSize"`
	BodySize    int     `json:"bodySize"`
}

// TraceEntry is one captured HTTP call in HAR 1.2 entry shape.
// headersSize/bodySize carry the HAR -1 sentinel ("not computed").
// ID correlates the request and response halves explicitly; consumers
// never match them up by position or timing.
type TraceEntry struct {
	ID              string        `json:"_id"`
	StartedDateTime time.Time     `json:"startedDateTime"`
	Time            int64         `json:"time"` // elapsed ms
	Request         TraceRequest  `json:"request"`
	Response        TraceResponse `json:"response"`
	Transport       TransportKind `json:"_transport"`
}

// SizeNotComputed is the HAR sentinel for headersSize/bodySize.
const SizeNotComputed = -1
