package interceptor

import (
	"context"
	"io"
	"net/http"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

// Client is the high-level fetch-style call path. It rides the same
// intercepted transport as raw round-trips but tags its entries with
// the client transport kind.
type Client struct {
	hc *http.Client
}

func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{hc: hc}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req = req.WithContext(WithKind(req.Context(), domain.TransportClient))
	return c.hc.Do(req)
}

func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}
