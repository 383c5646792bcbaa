package anydo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aioue/any.down/internal/transport"
)

// Mode selects the sync strategy.
type Mode int

const (
	// Full downloads every record (updatedSince=0).
	Full Mode = iota
	// Incremental downloads records changed since the stored watermark.
	Incremental
)

func (m Mode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "full"
}

const pollBackoffFactor = 1.5

// syncJob tracks one submitted background-sync job until it reaches a
// terminal state. Jobs are never persisted; a timed-out job is abandoned.
type syncJob struct {
	id    string
	since int64
}

// Fetch runs one sync in the given mode: submit the job, poll for the
// result with bounded backoff, decode the dataset, advance the watermark,
// and persist the session. Incremental mode without a watermark returns
// ErrNoWatermark. A job that never completes within the mode's deadline
// returns *SyncTimeoutError.
func (c *Client) Fetch(ctx context.Context, mode Mode) (*Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated {
		return nil, &AuthError{State: c.state, Err: ErrNotAuthenticated}
	}

	since := int64(0)
	if mode == Incremental {
		if c.sess.LastSyncTimestamp == 0 {
			return nil, ErrNoWatermark
		}
		since = c.sess.LastSyncTimestamp
	}

	job, notModified, err := c.submitJob(ctx, since)
	if err != nil {
		return nil, err
	}
	if notModified {
		// The server vouched that nothing changed since the last sync.
		// Zero changes, no polling; the watermark still advances.
		c.advanceWatermarkLocked()
		c.logger.Info("sync short-circuited, no changes", "mode", mode.String())
		return EmptyDataset(), nil
	}

	raw, err := c.pollJob(ctx, mode, job)
	if err != nil {
		return nil, err
	}

	ds, err := DecodeDataset(raw)
	if err != nil {
		return nil, err
	}

	c.advanceWatermarkLocked()
	c.logger.Info("sync complete", "mode", mode.String(), "tasks", len(ds.Tasks), "lists", len(ds.Lists))
	return ds, nil
}

// FetchAuto is the orchestration policy: incremental when a watermark
// exists, falling back once to full within the same call on any incremental
// failure (timeout, hard error, or usage error).
func (c *Client) FetchAuto(ctx context.Context) (*Dataset, error) {
	c.mu.Lock()
	hasWatermark := c.sess.LastSyncTimestamp != 0
	c.mu.Unlock()

	if hasWatermark {
		ds, err := c.Fetch(ctx, Incremental)
		if err == nil {
			return ds, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		c.logger.Warn("incremental sync failed, falling back to full", "error", err)
	}
	return c.Fetch(ctx, Full)
}

// submitJob starts a background sync. A 304 from the conditional layer
// means "no changes since last sync" and short-circuits the whole flow.
func (c *Client) submitJob(ctx context.Context, since int64) (*syncJob, bool, error) {
	params := url.Values{
		"updatedSince":      []string{strconv.FormatInt(since, 10)},
		"includeNonVisible": []string{"false"},
	}

	resp, err := c.etags.Do(ctx, http.MethodGet, c.endpoint("/api/v14/me/bg_sync"), &transport.Options{Params: params})
	if err != nil {
		return nil, false, fmt.Errorf("submitting sync job: %w", err)
	}
	if resp.NotModified {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("sync job submission returned status %d", resp.StatusCode)
	}

	var answer struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(resp.Body, &answer); err != nil {
		return nil, false, fmt.Errorf("parsing sync job response: %w", err)
	}
	if answer.TaskID == "" {
		return nil, false, fmt.Errorf("sync job response carried no task_id")
	}

	return &syncJob{id: answer.TaskID, since: since}, false, nil
}

// pollJob polls the job-result endpoint until the job is ready, failed, or
// the mode's deadline passes. 202 means still processing; the interval
// grows by half each miss and is capped, so the sequence is non-decreasing.
func (c *Client) pollJob(ctx context.Context, mode Mode, job *syncJob) ([]byte, error) {
	deadline := c.cfg.FullDeadline
	if mode == Incremental {
		deadline = c.cfg.IncrementalDeadline
	}

	resultURL := c.endpoint("/me/bg_sync_result/" + job.id)
	interval := c.cfg.PollInterval
	start := c.nowFn()

	for {
		if c.nowFn().Sub(start)+interval > deadline {
			return nil, &SyncTimeoutError{Mode: mode, Deadline: deadline}
		}
		if err := c.sleepFn(ctx, interval); err != nil {
			return nil, err
		}

		resp, err := c.http.Do(ctx, http.MethodGet, resultURL, nil)
		if err != nil {
			return nil, fmt.Errorf("polling sync job %s: %w", job.id, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return resp.Body, nil
		case http.StatusAccepted:
			// Still processing.
			interval = time.Duration(float64(interval) * pollBackoffFactor)
			if interval > c.cfg.PollCap {
				interval = c.cfg.PollCap
			}
		default:
			return nil, fmt.Errorf("sync job %s failed with status %d", job.id, resp.StatusCode)
		}
	}
}

// advanceWatermarkLocked moves the watermark to the local wall clock (the
// reference point the next incremental call will use) and persists the
// session immediately, so a crash after sync costs at most one redundant
// refetch.
func (c *Client) advanceWatermarkLocked() {
	c.sess.LastSyncTimestamp = c.nowFn().UnixMilli()
	c.persist()
}
