package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	storebolt "github.com/fengjun-lin/web-reel-sub000/internal/adapters/storage/bolt"
	"github.com/fengjun-lin/web-reel-sub000/internal/archive"
	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
	"github.com/fengjun-lin/web-reel-sub000/internal/infrastructure/config"
	obs "github.com/fengjun-lin/web-reel-sub000/internal/infrastructure/observability"
	"github.com/fengjun-lin/web-reel-sub000/internal/interceptor"
	"github.com/fengjun-lin/web-reel-sub000/internal/transfer"
	"github.com/fengjun-lin/web-reel-sub000/internal/usecase"
)

type testEnv struct {
	srv   *httptest.Server
	store *storebolt.Store
	svc   *usecase.RecorderService
}

func newTestEnv(t *testing.T, uploadEndpoint string) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	store, err := storebolt.Open(filepath.Join(t.TempDir(), "store.db"), 100, &logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	packager := archive.NewPackager(100, &logger)
	uploader := transfer.NewUploader(uploadEndpoint, nil, &logger)
	downloader := transfer.NewDownloader(nil, transfer.DownloaderConfig{
		ChunkSize: 1024, Concurrency: 2, BackoffBase: time.Millisecond,
	}, &logger)
	svc := usecase.NewRecorderService(store, store, store, packager, uploader)

	deps := &Deps{
		Cfg:        config.Config{CORSAllowOrigin: "*", Platform: "web", DeviceID: "dev-1"},
		Logger:     &logger,
		Metrics:    obs.NewMetrics(),
		Svc:        svc,
		Downloader: downloader,
	}
	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, svc: svc}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	resp := postJSON(t, env.srv.URL+"/api/sessions", map[string]string{"platform": "web"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var sess domain.Session
	_ = json.NewDecoder(resp.Body).Decode(&sess)
	_ = resp.Body.Close()
	if sess.ID == "" || sess.Platform != "web" {
		t.Fatalf("session = %+v", sess)
	}

	events := []map[string]any{
		{"type": 2, "data": map[string]any{"full": true}, "timestamp": 100},
		{"type": 3, "data": map[string]any{"x": 1}, "timestamp": 101},
		{"type": 3, "data": map[string]any{"x": 2}, "timestamp": 102},
	}
	resp = postJSON(t, env.srv.URL+"/api/sessions/"+sess.ID+"/events", map[string]any{"events": events})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("append status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp, err := http.Get(env.srv.URL + "/api/sessions/" + sess.ID + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	var listing struct {
		Total int                  `json:"total"`
		Items []domain.RenderEvent `json:"items"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&listing)
	_ = resp.Body.Close()
	if listing.Total != 3 || !listing.Items[0].IsFullSnapshot() {
		t.Fatalf("listing = %+v", listing)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/sessions/"+sess.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if evs, _ := env.store.ListEvents(context.Background(), sess.ID); len(evs) != 0 {
		t.Fatalf("events survived session delete")
	}
}

func TestExportPackagesUploadsAndCleansUp(t *testing.T) {
	var uploaded []byte
	var jiraField string
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("sink multipart: %v", err)
		}
		jiraField = r.FormValue("jira_id")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("sink file: %v", err)
		} else {
			if !strings.HasPrefix(header.Filename, "record-") {
				t.Errorf("file name = %q", header.Filename)
			}
			uploaded, _ = io.ReadAll(file)
			_ = file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"session":{"id":"srv-9","created_at":"2024-06-01T00:00:00Z"}}`))
	}))
	defer sink.Close()

	env := newTestEnv(t, sink.URL)
	ctx := context.Background()

	sess := domain.NewSession(time.Now())
	if err := env.svc.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	data, _ := json.Marshal(map[string]int{"n": 1})
	if err := env.svc.AddEvents(ctx, sess.ID, []domain.RenderEvent{{Type: 3, Data: data, Timestamp: sess.TraceTime}}); err != nil {
		t.Fatalf("add events: %v", err)
	}

	resp := postJSON(t, env.srv.URL+"/api/sessions/"+sess.ID+"/export", map[string]string{"jiraId": "REC-7"})
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d: %s", resp.StatusCode, raw)
	}
	if jiraField != "REC-7" {
		t.Fatalf("jira_id = %q", jiraField)
	}

	doc, err := archive.Open(uploaded, time.Now())
	if err != nil {
		t.Fatalf("uploaded archive invalid: %v", err)
	}
	if len(doc[sess.ID].EventData) != 1 {
		t.Fatalf("archive document = %+v", doc)
	}

	// successful export deletes the local buffer
	if _, found, _ := env.store.GetSession(ctx, sess.ID); found {
		t.Fatalf("session survived successful export")
	}
}

func TestStreamIngestsEventBatches(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	sess := domain.NewSession(time.Now())
	if err := env.svc.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/sessions/" + sess.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := map[string]any{"events": []map[string]any{
		{"type": 3, "data": map[string]any{"a": 1}, "timestamp": 10},
		{"type": 3, "data": map[string]any{"b": 2}, "timestamp": 11},
	}}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ok, _ := ack["ok"].(bool); !ok {
		t.Fatalf("ack = %v", ack)
	}

	evs, err := env.store.ListEvents(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("streamed %d events into store, want 2", len(evs))
	}
}

func TestReplayDownloadIsNotSelfRecorded(t *testing.T) {
	logger := zerolog.Nop()
	store, err := storebolt.Open(filepath.Join(t.TempDir(), "store.db"), 100, &logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sess := domain.NewSession(time.Now())
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	// capture client wired the way the agent wires it: every call it
	// makes lands as a trace entry in the active session
	captureClient := &http.Client{}
	interceptor.Install(captureClient, func(e domain.TraceEntry) {
		_ = store.AppendEntry(ctx, sess.ID, e)
	}, interceptor.Options{}, &logger)

	p := archive.NewPackager(100, &logger)
	data, _ := json.Marshal(map[string]int{"n": 1})
	blob, err := p.Package(ctx, domain.ArchiveDocument{
		"1700000000000": {EventData: []domain.RenderEvent{{Type: 3, Data: data, Timestamp: 1}}, ResponseData: []domain.TraceEntry{}},
	}, nil)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "record.zip", time.Unix(0, 0), bytes.NewReader(blob))
	}))
	defer fileSrv.Close()

	// the downloader gets its own plain client, never the capture one
	downloader := transfer.NewDownloader(&http.Client{}, transfer.DownloaderConfig{
		ChunkSize: 256, Concurrency: 2, BackoffBase: time.Millisecond,
	}, &logger)
	svc := usecase.NewRecorderService(store, store, store, p, transfer.NewUploader("", captureClient, &logger))
	deps := &Deps{
		Cfg:        config.Config{CORSAllowOrigin: "*"},
		Logger:     &logger,
		Metrics:    obs.NewMetrics(),
		Svc:        svc,
		Downloader: downloader,
	}
	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/replay?url=" + fileSrv.URL)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}

	// async sink settle time before asserting emptiness
	time.Sleep(100 * time.Millisecond)
	entries, err := store.ListEntries(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("replay self-recorded %d trace entries (first: %s)", len(entries), entries[0].Request.URL)
	}
}

func TestReplayFetchesAndParsesArchive(t *testing.T) {
	logger := zerolog.Nop()
	p := archive.NewPackager(100, &logger)
	data, _ := json.Marshal(map[string]int{"n": 7})
	doc := domain.ArchiveDocument{
		"1700000000000": {
			EventData:    []domain.RenderEvent{{Type: 3, Data: data, Timestamp: 1}},
			ResponseData: []domain.TraceEntry{},
		},
	}
	blob, err := p.Package(context.Background(), doc, nil)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "record.zip", time.Unix(0, 0), bytes.NewReader(blob))
	}))
	defer fileSrv.Close()

	env := newTestEnv(t, "")
	resp, err := http.Get(env.srv.URL + "/api/replay?url=" + fileSrv.URL)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("replay status = %d: %s", resp.StatusCode, raw)
	}
	var got domain.ArchiveDocument
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got["1700000000000"].EventData) != 1 {
		t.Fatalf("replay document = %+v", got)
	}
}
