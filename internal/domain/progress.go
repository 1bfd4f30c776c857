package domain

// ChunkStatus is the lifecycle of one byte range of a download.
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "pending"
	ChunkDownloading ChunkStatus = "downloading"
	ChunkCompleted   ChunkStatus = "completed"
	ChunkError       ChunkStatus = "error"
)

// ChunkTask is one byte range [Start, End] of a remote resource.
// Loaded is used only for progress aggregation, never for identity.
type ChunkTask struct {
	Index  int         `json:"index"`
	Start  int64       `json:"start"`
	End    int64       `json:"end"` // inclusive
	Status ChunkStatus `json:"status"`
	Loaded int64       `json:"loaded"`
}

// DownloadProgress is a derived snapshot recomputed from chunk state.
// It is never persisted.
type DownloadProgress struct {
	Loaded           int64   `json:"loaded"`
	Total            int64   `json:"total"`
	Percent          float64 `json:"percent"`
	BytesPerSecond   float64 `json:"bytesPerSecond"`
	RemainingSeconds float64 `json:"remainingSeconds"`
}

// TransferProgress reports a 0-100 position within a chained
// compress-then-upload budget: compression consumes 0-50, transfer
// 50-100.
type TransferProgress struct {
	Phase   string  `json:"phase"` // "compress" | "transfer"
	Percent float64 `json:"percent"`
}
