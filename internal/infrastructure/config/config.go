package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr            string
	LogLevel        string
	CORSAllowOrigin string

	// Event store
	StorePath           string
	MaxEventsPerSession int
	// RetentionDays: negative keeps forever, 0 keeps only the grace
	// window, positive N keeps N days.
	RetentionDays int

	// Capture
	MaxBodyBytes int

	// Upload sink
	UploadEndpoint string
	Platform       string
	DeviceID       string

	// Chunked download
	ChunkSizeBytes      int
	DownloadConcurrency int
	DownloadMaxRetries  int
}

func FromEnv() Config {
	cfg := Config{
		Addr:            getEnv("ADDR", ":9080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
	}
	cfg.StorePath = getEnv("STORE_PATH", "web-reel.db")
	cfg.MaxEventsPerSession = getEnvInt("MAX_EVENTS_PER_SESSION", 5000)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 7)
	cfg.MaxBodyBytes = getEnvInt("MAX_BODY_BYTES", 1<<20) // 1MB
	cfg.UploadEndpoint = getEnv("UPLOAD_ENDPOINT", "")
	cfg.Platform = getEnv("PLATFORM", "")
	cfg.DeviceID = getEnv("DEVICE_ID", "")
	cfg.ChunkSizeBytes = getEnvInt("CHUNK_SIZE_BYTES", 1<<20)
	cfg.DownloadConcurrency = getEnvInt("DOWNLOAD_CONCURRENCY", 6)
	cfg.DownloadMaxRetries = getEnvInt("DOWNLOAD_MAX_RETRIES", 3)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
