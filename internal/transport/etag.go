package transport

import (
	"context"
	"net/http"
	"sync"
)

// ETagCache layers conditional requests over a Client. It remembers one
// entity tag per URL; the next request to that URL carries If-None-Match so
// the server can answer 304 instead of resending the body.
//
// The key is the URL alone, not (method, URL). Two semantically different
// resources must not share a URL through this layer.
type ETagCache struct {
	client *Client

	mu    sync.Mutex
	etags map[string]string
}

// NewETagCache wraps client. seed carries previously persisted tags and may
// be nil.
func NewETagCache(client *Client, seed map[string]string) *ETagCache {
	etags := make(map[string]string, len(seed))
	for k, v := range seed {
		etags[k] = v
	}
	return &ETagCache{client: client, etags: etags}
}

// Do sends the request with a validation precondition when a tag is known
// for the URL, and records any tag the response carries. Validity is decided
// entirely by the server; there is no TTL.
func (e *ETagCache) Do(ctx context.Context, method, rawURL string, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Header == nil {
		opts.Header = make(http.Header)
	}

	e.mu.Lock()
	if tag, ok := e.etags[rawURL]; ok {
		opts.Header.Set("If-None-Match", tag)
	}
	e.mu.Unlock()

	resp, err := e.client.Do(ctx, method, rawURL, opts)
	if err != nil {
		return nil, err
	}

	if tag := resp.Header.Get("ETag"); tag != "" {
		e.mu.Lock()
		e.etags[rawURL] = tag
		e.mu.Unlock()
	}

	return resp, nil
}

// Snapshot returns a copy of the known tags for persistence.
func (e *ETagCache) Snapshot() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.etags))
	for k, v := range e.etags {
		out[k] = v
	}
	return out
}

// Clear forgets every stored tag. Used when the session is invalidated.
func (e *ETagCache) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.etags = make(map[string]string)
}
