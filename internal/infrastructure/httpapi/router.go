package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fengjun-lin/web-reel-sub000/internal/infrastructure/config"
	obs "github.com/fengjun-lin/web-reel-sub000/internal/infrastructure/observability"
	"github.com/fengjun-lin/web-reel-sub000/internal/transfer"
	"github.com/fengjun-lin/web-reel-sub000/internal/usecase"
)

type Deps struct {
	Cfg        config.Config
	Logger     *zerolog.Logger
	Metrics    *obs.Metrics
	Svc        *usecase.RecorderService
	Downloader *transfer.Downloader
}

func NewRouter(d *Deps) http.Handler {
	return withCORS(d.Cfg, buildBaseMux(d))
}

func buildBaseMux(d *Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":    "web-reel",
			"version": obs.Version,
			"time":    time.Now().UTC(),
		})
	})

	mux.HandleFunc("/api/replay", d.handleReplay)
	mux.HandleFunc("/api/sessions", d.handleSessions)
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
		parts := strings.Split(path, "/")
		id := parts[0]
		if id == "" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
			return
		}
		switch {
		case len(parts) == 1:
			d.handleSessionByID(w, r, id)
		case parts[1] == "events":
			d.handleEvents(w, r, id)
		case parts[1] == "entries":
			d.handleEntries(w, r, id)
		case parts[1] == "export":
			d.handleExport(w, r, id)
		case parts[1] == "stream":
			d.handleStream(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		}
	})

	return mux
}

func withCORS(cfg config.Config, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Sec-WebSocket-Protocol")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
