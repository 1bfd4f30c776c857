package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

const (
	// DefaultChunkSize splits the resource into 1 MiB ranges.
	DefaultChunkSize = 1 << 20
	// DefaultConcurrency bounds in-flight ranges.
	DefaultConcurrency = 6
	// DefaultMaxRetries is the retry budget per range; backoff delays
	// double from backoffBase (1s, 2s, 4s at the default).
	DefaultMaxRetries  = 3
	defaultBackoffBase = time.Second
)

// ErrUnknownSize is returned when neither the caller nor the metadata
// probe can determine the resource size.
var ErrUnknownSize = errors.New("transfer: resource size unknown")

// errRangeIgnored marks a server that answered a partial request with
// the whole resource. Retrying cannot help; the download falls back to
// a single streamed request.
var errRangeIgnored = errors.New("transfer: server ignored range request")

// RangeError reports the range that exhausted its retries.
type RangeError struct {
	Index  int
	Status int
	Err    error
}

func (e *RangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer: range %d failed: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("transfer: range %d failed with status %d", e.Index, e.Status)
}

func (e *RangeError) Unwrap() error { return e.Err }

type DownloaderConfig struct {
	ChunkSize   int64
	Concurrency int
	MaxRetries  int
	// BackoffBase scales retry delays; tests shrink it.
	BackoffBase time.Duration
}

// Downloader retrieves an archive with concurrent ranged GETs and
// reassembles the ranges into one exact byte sequence. It owns no
// state across calls; every ChunkTask is scoped to one Download.
type Downloader struct {
	hc     *http.Client
	cfg    DownloaderConfig
	logger *zerolog.Logger
}

func NewDownloader(hc *http.Client, cfg DownloaderConfig, logger *zerolog.Logger) *Downloader {
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	return &Downloader{hc: hc, cfg: cfg, logger: logger}
}

// Download fetches the resource. size <= 0 triggers a metadata probe.
// The merged result is bit-identical to a single unchunked download.
func (d *Downloader) Download(ctx context.Context, url string, size int64, onProgress func(domain.DownloadProgress)) ([]byte, error) {
	if size <= 0 {
		probed, err := d.probeSize(ctx, url)
		if err != nil {
			return nil, err
		}
		size = probed
	}
	if size == 0 {
		if onProgress != nil {
			onProgress(domain.DownloadProgress{Loaded: 0, Total: 0, Percent: 100})
		}
		return []byte{}, nil
	}
	// strategy selection: one streamed request below a single chunk,
	// concurrent ranges otherwise
	if size < d.cfg.ChunkSize {
		return d.downloadDirect(ctx, url, size, onProgress)
	}
	return d.downloadChunked(ctx, url, size, onProgress)
}

func (d *Downloader) probeSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("transfer: probe: %w", err)
	}
	resp, err := d.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("transfer: probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("transfer: probe returned status %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, ErrUnknownSize
	}
	return resp.ContentLength, nil
}

func (d *Downloader) downloadDirect(ctx context.Context, url string, size int64, onProgress func(domain.DownloadProgress)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transfer: direct get: %w", err)
	}
	resp, err := d.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transfer: direct get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("transfer: direct get returned status %d", resp.StatusCode)
	}

	started := time.Now()
	buf := make([]byte, 0, size)
	chunk := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if onProgress != nil {
				onProgress(snapshot(int64(len(buf)), size, started))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("transfer: direct read: %w", err)
		}
	}
	if int64(len(buf)) != size {
		return nil, fmt.Errorf("transfer: direct download got %d bytes, want %d", len(buf), size)
	}
	return buf, nil
}

// aggregate is the only state shared by in-flight range goroutines.
type aggregate struct {
	mu      sync.Mutex
	tasks   []domain.ChunkTask
	started time.Time
	// published progress is monotone: a retried range never walks the
	// reported total backwards.
	highWater int64
}

func (a *aggregate) update(index int, loaded int64, status domain.ChunkStatus, total int64, onProgress func(domain.DownloadProgress)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := &a.tasks[index]
	t.Status = status
	if loaded > t.Loaded {
		t.Loaded = loaded
	}
	var sum int64
	for i := range a.tasks {
		sum += a.tasks[i].Loaded
	}
	if sum > a.highWater {
		a.highWater = sum
	}
	if onProgress != nil {
		onProgress(snapshot(a.highWater, total, a.started))
	}
}

func snapshot(loaded, total int64, started time.Time) domain.DownloadProgress {
	p := domain.DownloadProgress{Loaded: loaded, Total: total}
	if total > 0 {
		p.Percent = 100 * float64(loaded) / float64(total)
	}
	elapsed := time.Since(started).Seconds()
	if elapsed > 0 {
		p.BytesPerSecond = float64(loaded) / elapsed
		if p.BytesPerSecond > 0 {
			p.RemainingSeconds = float64(total-loaded) / p.BytesPerSecond
		}
	}
	return p
}

func (d *Downloader) downloadChunked(ctx context.Context, url string, size int64, onProgress func(domain.DownloadProgress)) ([]byte, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make([]domain.ChunkTask, 0, int(size/d.cfg.ChunkSize)+1)
	for start := int64(0); start < size; start += d.cfg.ChunkSize {
		end := start + d.cfg.ChunkSize - 1
		if end > size-1 {
			end = size - 1
		}
		tasks = append(tasks, domain.ChunkTask{
			Index:  len(tasks),
			Start:  start,
			End:    end,
			Status: domain.ChunkPending,
		})
	}

	buf := make([]byte, size)
	agg := &aggregate{tasks: tasks, started: time.Now()}

	queue := make(chan int)
	errCh := make(chan error, len(tasks))
	var wg sync.WaitGroup

	workers := d.cfg.Concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range queue {
				if err := d.fetchRange(cctx, url, size, index, agg, buf, onProgress); err != nil {
					errCh <- err
					cancel() // one exhausted range fails the download
					return
				}
			}
		}()
	}

	// as soon as a worker frees up, the next pending range is scheduled
feed:
	for i := range tasks {
		select {
		case queue <- i:
		case <-cctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	select {
	case err := <-errCh:
		if errors.Is(err, errRangeIgnored) {
			d.logger.Warn().Str("url", url).Msg("server ignored range request, streaming whole resource instead")
			return d.downloadDirect(ctx, url, size, onProgress)
		}
		return nil, err
	default:
	}
	if err := cctx.Err(); err != nil {
		return nil, fmt.Errorf("transfer: download canceled: %w", err)
	}
	return buf, nil
}

// fetchRange downloads one range with retries, writing bytes at the
// range's offset. The buffer region [Start, End] belongs exclusively
// to this range, so only the progress aggregate needs the lock.
func (d *Downloader) fetchRange(ctx context.Context, url string, size int64, index int, agg *aggregate, buf []byte, onProgress func(domain.DownloadProgress)) error {
	task := agg.tasks[index]
	rangeLen := task.End - task.Start + 1

	var lastErr error
	lastStatus := 0
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := d.cfg.BackoffBase << (attempt - 1)
			d.logger.Debug().Int("range", index).Int("attempt", attempt).Dur("delay", delay).Msg("retrying range")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("transfer: download canceled: %w", ctx.Err())
			}
		}

		status, err := d.fetchRangeOnce(ctx, url, index, task, rangeLen, agg, buf, onProgress)
		if err == nil {
			agg.update(index, rangeLen, domain.ChunkCompleted, size, onProgress)
			return nil
		}
		if errors.Is(err, errRangeIgnored) {
			return err // not transient, no retry budget spent
		}
		if ctx.Err() != nil {
			return fmt.Errorf("transfer: download canceled: %w", ctx.Err())
		}
		lastErr, lastStatus = err, status
		agg.update(index, 0, domain.ChunkError, size, nil)
	}
	return &RangeError{Index: index, Status: lastStatus, Err: lastErr}
}

func (d *Downloader) fetchRangeOnce(ctx context.Context, url string, index int, task domain.ChunkTask, rangeLen int64, agg *aggregate, buf []byte, onProgress func(domain.DownloadProgress)) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", task.Start, task.End))

	resp, err := d.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	// 206 expected. A 200 without Content-Range on a partial request is
	// the whole resource: merging its head at this range's offset would
	// corrupt the buffer.
	if resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Range") == "" && rangeLen < int64(len(buf)) {
		return resp.StatusCode, errRangeIgnored
	}

	agg.update(index, 0, domain.ChunkDownloading, int64(len(buf)), nil)

	offset := task.Start
	remaining := rangeLen
	for remaining > 0 {
		chunk := int64(32 << 10)
		if chunk > remaining {
			chunk = remaining
		}
		n, err := resp.Body.Read(buf[offset : offset+chunk])
		if n > 0 {
			offset += int64(n)
			remaining -= int64(n)
			agg.update(index, rangeLen-remaining, domain.ChunkDownloading, int64(len(buf)), onProgress)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return resp.StatusCode, err
		}
	}
	if remaining > 0 {
		return resp.StatusCode, fmt.Errorf("short range body: missing %d bytes", remaining)
	}
	return resp.StatusCode, nil
}
