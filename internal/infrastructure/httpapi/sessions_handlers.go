package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
	"github.com/fengjun-lin/web-reel-sub000/internal/usecase"
)

func (d *Deps) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Platform string `json:"platform"`
			DeviceID string `json:"deviceId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body) // body is optional
		sess := domain.NewSession(time.Now())
		sess.Platform = body.Platform
		sess.DeviceID = body.DeviceID
		if err := d.Svc.Create(r.Context(), sess); err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_CREATE_FAILED", err.Error(), nil)
			return
		}
		d.Metrics.ActiveSessions.Inc()
		writeJSON(w, http.StatusCreated, sess)
	case http.MethodGet:
		items, err := d.Svc.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SESSIONS_LIST_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
	case http.MethodDelete:
		if err := d.Svc.ClearAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "SESSIONS_CLEAR_FAILED", err.Error(), nil)
			return
		}
		d.Metrics.ActiveSessions.Set(0)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method", nil)
	}
}

func (d *Deps) handleSessionByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, found, err := d.Svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_GET_FAILED", err.Error(), nil)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found", map[string]any{"id": id})
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := d.Svc.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_DELETE_FAILED", err.Error(), nil)
			return
		}
		d.Metrics.ActiveSessions.Dec()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method", nil)
	}
}

func (d *Deps) handleEvents(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Events []domain.RenderEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid event batch: "+err.Error(), nil)
			return
		}
		if err := d.Svc.AddEvents(r.Context(), id, body.Events); err != nil {
			writeError(w, http.StatusInternalServerError, "EVENTS_APPEND_FAILED", err.Error(), nil)
			return
		}
		d.Metrics.EventsAppended.Add(float64(len(body.Events)))
		writeJSON(w, http.StatusAccepted, map[string]any{"appended": len(body.Events)})
	case http.MethodGet:
		events, err := d.Svc.ListEvents(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "EVENTS_LIST_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": events, "total": len(events)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method", nil)
	}
}

func (d *Deps) handleEntries(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		var entry domain.TraceEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid trace entry: "+err.Error(), nil)
			return
		}
		if err := d.Svc.AddEntry(r.Context(), id, entry); err != nil {
			writeError(w, http.StatusInternalServerError, "ENTRY_APPEND_FAILED", err.Error(), nil)
			return
		}
		d.Metrics.EntriesCaptured.WithLabelValues(string(entry.Transport)).Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{"appended": 1})
	case http.MethodGet:
		entries, err := d.Svc.ListEntries(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ENTRIES_LIST_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries, "total": len(entries)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method", nil)
	}
}

func (d *Deps) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method", nil)
		return
	}
	var body struct {
		JiraID string `json:"jiraId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	meta := usecase.UploadMeta{
		Platform: d.Cfg.Platform,
		DeviceID: d.Cfg.DeviceID,
		JiraID:   body.JiraID,
	}
	ack, err := d.Svc.Export(r.Context(), id, meta, func(p domain.TransferProgress) {
		d.Logger.Debug().Str("session", id).Str("phase", p.Phase).Float64("percent", p.Percent).Msg("export progress")
	})
	if err != nil {
		d.Metrics.UploadsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadGateway, "EXPORT_FAILED", err.Error(), map[string]any{"id": id})
		return
	}
	d.Metrics.UploadsTotal.WithLabelValues("ok").Inc()
	d.Metrics.ActiveSessions.Dec()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": ack})
}
