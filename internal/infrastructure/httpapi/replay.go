package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/fengjun-lin/web-reel-sub000/internal/archive"
	"github.com/fengjun-lin/web-reel-sub000/internal/transfer"
)

// handleReplay fetches a previously uploaded archive with the chunked
// downloader and returns its parsed document for the replay UI.
// GET /api/replay?url=<archive-url>
func (d *Deps) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method", nil)
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing url parameter", nil)
		return
	}

	blob, err := d.Downloader.Download(r.Context(), url, 0, nil)
	if err != nil {
		var re *transfer.RangeError
		if errors.As(err, &re) {
			writeError(w, http.StatusBadGateway, "DOWNLOAD_FAILED", err.Error(), map[string]any{"range": re.Index})
			return
		}
		writeError(w, http.StatusBadGateway, "DOWNLOAD_FAILED", err.Error(), nil)
		return
	}

	doc, err := archive.Open(blob, time.Now())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "ARCHIVE_INVALID", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
