package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 4 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type streamFrame struct {
	Events []domain.RenderEvent `json:"events"`
}

// handleStream accepts a WebSocket connection from the DOM recording
// engine and appends each frame's event batch to the session. The
// append is transactional per frame; a storage failure is reported on
// the socket but does not tear the page down.
func (d *Deps) handleStream(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Logger.Warn().Err(err).Str("session", id).Msg("stream upgrade failed")
		return
	}
	defer conn.Close()
	d.Logger.Info().Str("session", id).Msg("render-event stream connected")

	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.Logger.Warn().Err(err).Str("session", id).Msg("render-event stream closed unexpectedly")
			}
			return
		}
		if len(frame.Events) == 0 {
			continue
		}
		if err := d.Svc.AddEvents(r.Context(), id, frame.Events); err != nil {
			// capture-path failure: log, tell the engine, keep going
			d.Logger.Error().Err(err).Str("session", id).Msg("stream append failed")
			_ = conn.WriteJSON(map[string]any{"ok": false, "error": err.Error()})
			continue
		}
		d.Metrics.EventsAppended.Add(float64(len(frame.Events)))
		_ = conn.WriteJSON(map[string]any{"ok": true, "appended": len(frame.Events)})
	}
}
