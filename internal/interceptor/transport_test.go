package interceptor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

func collectingSink(t *testing.T) (Sink, func() domain.TraceEntry) {
	t.Helper()
	ch := make(chan domain.TraceEntry, 8)
	sink := func(e domain.TraceEntry) { ch <- e }
	wait := func() domain.TraceEntry {
		select {
		case e := <-ch:
			return e
		case <-time.After(2 * time.Second):
			t.Fatalf("no trace entry emitted")
			return domain.TraceEntry{}
		}
	}
	return sink, wait
}

func testClient(t *testing.T, sink Sink, opts Options) *http.Client {
	t.Helper()
	logger := zerolog.Nop()
	client := &http.Client{}
	Install(client, sink, opts, &logger)
	return client
}

func TestSuccessfulCallCaptured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	client := testClient(t, sink, Options{})

	req, _ := http.NewRequest("post", srv.URL+"/items?a=1&b=two", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "created" {
		t.Fatalf("caller saw modified body: %q", body)
	}

	entry := wait()
	if entry.Request.Method != "POST" {
		t.Fatalf("method = %q, want POST", entry.Request.Method)
	}
	if !strings.HasSuffix(entry.Request.URL, "/items?a=1&b=two") {
		t.Fatalf("url = %q", entry.Request.URL)
	}
	wantQS := []domain.KV{{Name: "a", Value: "1"}, {Name: "b", Value: "two"}}
	if len(entry.Request.QueryString) != 2 || entry.Request.QueryString[0] != wantQS[0] || entry.Request.QueryString[1] != wantQS[1] {
		t.Fatalf("queryString = %+v", entry.Request.QueryString)
	}
	if entry.Request.PostData == nil || entry.Request.PostData.Text != `{"name":"x"}` {
		t.Fatalf("postData = %+v", entry.Request.PostData)
	}
	if entry.Response.Status != http.StatusCreated || entry.Response.StatusText != "Created" {
		t.Fatalf("response status = %d %q", entry.Response.Status, entry.Response.StatusText)
	}
	if entry.Response.Content.Text != "created" {
		t.Fatalf("response body = %q", entry.Response.Content.Text)
	}
	found := false
	for _, kv := range entry.Response.Headers {
		if kv.Name == "X-Test" && kv.Value == "yes" {
			found = true
		}
	}
	if !found {
		t.Fatalf("response headers missing X-Test: %+v", entry.Response.Headers)
	}
	if entry.Request.HeadersSize != domain.SizeNotComputed || entry.Request.BodySize != domain.SizeNotComputed {
		t.Fatalf("size sentinels not set: %+v", entry.Request)
	}
	if entry.Transport != domain.TransportRoundTrip {
		t.Fatalf("transport kind = %q", entry.Transport)
	}
	if entry.ID == "" {
		t.Fatalf("entry has no correlation id")
	}
}

type failingRT struct{ err error }

func (f failingRT) RoundTrip(*http.Request) (*http.Response, error) { return nil, f.err }

func TestTransportFailureIsStatusZero(t *testing.T) {
	sink, wait := collectingSink(t)
	logger := zerolog.Nop()
	rt := NewTransport(failingRT{err: errors.New("dial tcp: connection refused")}, sink, Options{}, &logger)

	req, _ := http.NewRequest("GET", "http://unreachable.invalid/x", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatalf("expected transport error")
	}

	entry := wait()
	if entry.Response.Status != 0 {
		t.Fatalf("status = %d, want 0 for transport failure", entry.Response.Status)
	}
	if !strings.Contains(entry.Response.StatusText, "connection refused") {
		t.Fatalf("statusText = %q", entry.Response.StatusText)
	}
	if len(entry.Response.Headers) != 0 || entry.Response.Content.Text != "" {
		t.Fatalf("failure entry carries response data: %+v", entry.Response)
	}
}

func TestHTTPErrorKeepsRealStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	client := testClient(t, sink, Options{})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()

	entry := wait()
	if entry.Response.Status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 (0 is reserved for transport failures)", entry.Response.Status)
	}
}

func TestIgnorePredicateSkipsCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := make(chan domain.TraceEntry, 1)
	client := testClient(t, func(e domain.TraceEntry) { ch <- e }, Options{
		Ignore: func(r *http.Request) bool { return strings.Contains(r.URL.Path, "/upload") },
	})

	resp, err := client.Get(srv.URL + "/upload/record.zip")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()

	select {
	case e := <-ch:
		t.Fatalf("ignored call produced an entry: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInstallIdempotentAndUninstallRestores(t *testing.T) {
	logger := zerolog.Nop()
	original := &http.Transport{}
	client := &http.Client{Transport: original}

	for cycle := 0; cycle < 3; cycle++ {
		Install(client, nil, Options{}, &logger)
		if _, ok := client.Transport.(*Transport); !ok {
			t.Fatalf("cycle %d: transport not wrapped", cycle)
		}
		// second install is a no-op
		wrapped := client.Transport
		Install(client, nil, Options{}, &logger)
		if client.Transport != wrapped {
			t.Fatalf("cycle %d: re-install replaced the wrapper", cycle)
		}
		Uninstall(client)
		if client.Transport != http.RoundTripper(original) {
			t.Fatalf("cycle %d: uninstall did not restore original", cycle)
		}
	}
}

func TestUninstallRestoresNilTransport(t *testing.T) {
	logger := zerolog.Nop()
	client := &http.Client{}
	Install(client, nil, Options{}, &logger)
	Uninstall(client)
	if client.Transport != nil {
		t.Fatalf("uninstall left transport %T, want nil", client.Transport)
	}
}

func TestResponseBodyCapped(t *testing.T) {
	big := strings.Repeat("z", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(big))
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	client := testClient(t, sink, Options{MaxBodyBytes: 100})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != big {
		t.Fatalf("caller body truncated to %d bytes", len(body))
	}

	entry := wait()
	if len(entry.Response.Content.Text) != 100 {
		t.Fatalf("captured body = %d bytes, want capped 100", len(entry.Response.Content.Text))
	}
}

func TestBinaryResponseBodyBase64(t *testing.T) {
	raw := []byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0xff, 0xfe, 0x80, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	client := testClient(t, sink, Options{})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	echoed, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !bytes.Equal(echoed, raw) {
		t.Fatalf("caller body altered: %x", echoed)
	}

	entry := wait()
	if entry.Response.Content.Encoding != "base64" {
		t.Fatalf("encoding = %q, want base64 for binary body", entry.Response.Content.Encoding)
	}
	decoded, err := base64.StdEncoding.DecodeString(entry.Response.Content.Text)
	if err != nil {
		t.Fatalf("captured text is not valid base64: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatalf("decoded capture differs from wire bytes")
	}
	if entry.Response.Content.Size != len(raw) {
		t.Fatalf("content size = %d, want %d", entry.Response.Content.Size, len(raw))
	}
}

func TestTextResponseBodyStaysPlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	client := testClient(t, sink, Options{})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()

	entry := wait()
	if entry.Response.Content.Encoding != "" {
		t.Fatalf("encoding = %q, want empty for JSON body", entry.Response.Content.Encoding)
	}
	if entry.Response.Content.Text != `{"ok":true}` {
		t.Fatalf("text = %q", entry.Response.Content.Text)
	}
}

func TestSensitiveHeaderMasked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	client := testClient(t, sink, Options{})
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()

	entry := wait()
	for _, kv := range entry.Request.Headers {
		if kv.Name == "Authorization" && kv.Value != "***" {
			t.Fatalf("authorization value leaked: %q", kv.Value)
		}
	}
}

func TestSensitiveJSONFieldMasked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	client := testClient(t, sink, Options{})
	body := `{"user":"alice","access_token":"abc123"}`
	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()

	entry := wait()
	if entry.Request.PostData == nil {
		t.Fatalf("no postData captured")
	}
	if strings.Contains(entry.Request.PostData.Text, "abc123") {
		t.Fatalf("token leaked into capture: %q", entry.Request.PostData.Text)
	}
	if !strings.Contains(entry.Request.PostData.Text, `"user":"alice"`) {
		t.Fatalf("non-sensitive field lost: %q", entry.Request.PostData.Text)
	}
}

func TestClientMarksFetchKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, wait := collectingSink(t)
	hc := testClient(t, sink, Options{})
	c := NewClient(hc)
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()

	if entry := wait(); entry.Transport != domain.TransportClient {
		t.Fatalf("transport kind = %q, want %q", entry.Transport, domain.TransportClient)
	}
}

func TestQueryPairsDecodeFallback(t *testing.T) {
	got := queryPairs("ok=hello%20world&bad=%zz&flag")
	want := []domain.KV{
		{Name: "ok", Value: "hello world"},
		{Name: "bad", Value: "%zz"}, // undecodable keeps the raw substring
		{Name: "flag", Value: ""},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d pairs, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pair %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
