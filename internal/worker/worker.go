// Package worker runs batches of independent read requests in parallel
// under a fixed concurrency bound. Each slot gets its own timeout; a slot
// that fails or times out yields a nil result without disturbing the rest
// of the batch.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aioue/any.down/internal/transport"
)

const (
	defaultConcurrency = 5
	defaultSlotTimeout = 10 * time.Second
)

// Doer issues one HTTP request. Satisfied by *transport.Client.
type Doer interface {
	Do(ctx context.Context, method, rawURL string, opts *transport.Options) (*transport.Response, error)
}

// Request is one GET in a batch.
type Request struct {
	URL     string
	Options *transport.Options
}

// Pool fetches request batches with bounded parallelism.
type Pool struct {
	client      Doer
	concurrency int
	slotTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency bounds in-flight requests. Values below 1 keep the default.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n >= 1 {
			p.concurrency = n
		}
	}
}

// WithSlotTimeout sets the per-request deadline.
func WithSlotTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.slotTimeout = d
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a Pool over client.
func NewPool(client Doer, opts ...Option) *Pool {
	p := &Pool{
		client:      client,
		concurrency: defaultConcurrency,
		slotTimeout: defaultSlotTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch issues every request as a GET and returns responses in input order.
// A failed or timed-out request leaves a nil entry in its slot. Cancelling
// ctx abandons slots that have not completed; their entries stay nil.
func (p *Pool) Fetch(ctx context.Context, reqs []Request) []*transport.Response {
	results := make([]*transport.Response, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return results
		}

		wg.Add(1)
		go func(slot int, req Request) {
			defer wg.Done()
			defer func() { <-sem }()

			slotCtx, cancel := context.WithTimeout(ctx, p.slotTimeout)
			defer cancel()

			resp, err := p.client.Do(slotCtx, "GET", req.URL, req.Options)
			if err != nil {
				p.logger.Warn("batch fetch slot failed", "slot", slot, "url", req.URL, "error", err)
				return
			}
			results[slot] = resp
		}(i, req)
	}

	wg.Wait()
	return results
}
