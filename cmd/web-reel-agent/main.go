package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	storebolt "github.com/fengjun-lin/web-reel-sub000/internal/adapters/storage/bolt"
	"github.com/fengjun-lin/web-reel-sub000/internal/archive"
	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
	cfgpkg "github.com/fengjun-lin/web-reel-sub000/internal/infrastructure/config"
	"github.com/fengjun-lin/web-reel-sub000/internal/infrastructure/httpapi"
	obs "github.com/fengjun-lin/web-reel-sub000/internal/infrastructure/observability"
	"github.com/fengjun-lin/web-reel-sub000/internal/interceptor"
	"github.com/fengjun-lin/web-reel-sub000/internal/transfer"
	"github.com/fengjun-lin/web-reel-sub000/internal/usecase"
)

func main() {
	cfg := cfgpkg.FromEnv()

	logger := obs.NewLogger(cfg.LogLevel)
	logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StorePath).Msg("starting web-reel agent")

	metrics := obs.NewMetrics()

	store, err := storebolt.Open(cfg.StorePath, cfg.MaxEventsPerSession, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store init failed")
	}
	defer store.Close()

	// the active recording session; everything captured from now on
	// lands in its partitions
	session := domain.NewSession(time.Now())
	if err := store.CreateSession(context.Background(), session); err != nil {
		logger.Fatal().Err(err).Msg("session create failed")
	}
	metrics.ActiveSessions.Inc()
	logger.Info().Str("session", session.ID).Msg("recording session started")

	// outbound client shared by uploader and downloader; the
	// interceptor ignores its own sink/API traffic
	outbound := &http.Client{}
	interceptor.Install(outbound, func(e domain.TraceEntry) {
		if err := store.AppendEntry(context.Background(), session.ID, e); err != nil {
			// capture-path failure: log and swallow
			logger.Error().Err(err).Msg("trace entry append failed")
			return
		}
		metrics.EntriesCaptured.WithLabelValues(string(e.Transport)).Inc()
	}, interceptor.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Ignore: func(r *http.Request) bool {
			return cfg.UploadEndpoint != "" && strings.HasPrefix(r.URL.String(), cfg.UploadEndpoint)
		},
	}, logger)

	packager := archive.NewPackager(cfg.MaxEventsPerSession, logger)
	uploader := transfer.NewUploader(cfg.UploadEndpoint, outbound, logger)
	// replay fetches arbitrary archive URLs; they ride a plain client
	// so probe and range requests never land in the recording session
	downloader := transfer.NewDownloader(&http.Client{}, transfer.DownloaderConfig{
		ChunkSize:   int64(cfg.ChunkSizeBytes),
		Concurrency: cfg.DownloadConcurrency,
		MaxRetries:  cfg.DownloadMaxRetries,
	}, logger)

	svc := usecase.NewRecorderService(store, store, store, packager, uploader)

	// retention sweep shortly after init, off the startup path
	go func() {
		time.Sleep(2 * time.Second)
		dropped, err := store.Sweep(context.Background(), domain.RetentionPolicy(cfg.RetentionDays), session.TraceTime)
		if err != nil {
			logger.Error().Err(err).Msg("retention sweep failed")
			return
		}
		metrics.SessionsSwept.Add(float64(dropped))
	}()

	deps := &httpapi.Deps{
		Cfg:        cfg,
		Logger:     logger,
		Metrics:    metrics,
		Svc:        svc,
		Downloader: downloader,
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // export may compress and upload inline
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
}
