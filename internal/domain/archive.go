package domain

// SessionData is one session's buffered data inside an archive
// document: the opaque render events and the captured trace entries,
// both in emission order.
type SessionData struct {
	EventData    []RenderEvent `json:"eventData"`
	ResponseData []TraceEntry  `json:"responseData"`
}

// ArchiveDocument is the schema of data.json inside an archive:
// session data keyed by session id. A legacy flat variant without the
// session-id keying is normalized at import time.
type ArchiveDocument map[string]SessionData
