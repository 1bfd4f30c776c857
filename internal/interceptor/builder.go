package interceptor

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
	"github.com/fengjun-lin/web-reel-sub000/pkg/shared/redact"
)

// headerPairs flattens a header map into ordered name/value pairs.
// Names are sorted for a deterministic order; multiple values of one
// header keep their wire order. Sensitive values are masked before
// they ever reach the store.
func headerPairs(h http.Header) []domain.KV {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.KV, 0, len(h))
	for _, name := range names {
		for _, value := range h[name] {
			out = append(out, domain.KV{Name: name, Value: redact.Header(name, value)})
		}
	}
	return out
}

func cookiePairs(cookies []*http.Cookie) []domain.KV {
	out := make([]domain.KV, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, domain.KV{Name: c.Name, Value: redact.Header("cookie", c.Value)})
	}
	return out
}

// queryPairs decomposes a raw query string into name/value pairs.
// Decoding is best-effort: a component that fails to unescape is kept
// as its raw substring rather than dropped.
func queryPairs(rawQuery string) []domain.KV {
	if rawQuery == "" {
		return []domain.KV{}
	}
	parts := strings.Split(rawQuery, "&")
	out := make([]domain.KV, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, value := part, ""
		if i := strings.IndexByte(part, '='); i >= 0 {
			name, value = part[:i], part[i+1:]
		}
		out = append(out, domain.KV{Name: unescapeOrRaw(name), Value: unescapeOrRaw(value)})
	}
	return out
}

func unescapeOrRaw(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}
	return s
}
