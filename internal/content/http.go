package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zhangxrk/cesium/internal/cache/keys"
)

// HTTPStore fetches content relative to a base URL.
type HTTPStore struct {
	client *http.Client
	base   *url.URL
}

func NewHTTPStore(client *http.Client, base string) (*HTTPStore, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse content url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("content url %q: unsupported scheme", base)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &HTTPStore{client: client, base: u}, nil
}

func (h *HTTPStore) Get(ctx context.Context, uri string) ([]byte, error) {
	ref, err := url.Parse(keys.NormalizeURI(uri))
	if err != nil {
		return nil, fmt.Errorf("content uri %q: %w", uri, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("content uri %q is not relative", uri)
	}
	target := h.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
