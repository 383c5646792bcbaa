package anydo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aioue/any.down/internal/memcache"
	"github.com/aioue/any.down/internal/session"
	"github.com/aioue/any.down/internal/transport"
)

const (
	authTokenHeader = "X-Anydo-Auth"
	profileTTL      = 30 * time.Minute
)

// defaultHeaders mirror the service's web client handshake. The platform
// and version headers are part of the protocol: requests without them get
// served a different (older) API surface.
func defaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		"Accept":           "*/*",
		"Accept-Language":  "en-GB,en-US;q=0.9,en;q=0.8",
		"Content-Type":     "application/json; charset=UTF-8",
		"Cache-Control":    "no-cache",
		"Pragma":           "no-cache",
		"X-Anydo-Platform": "web",
		"X-Anydo-Version":  "5.0.97",
		"X-Platform":       "3",
	}
}

// State is the authentication state machine position.
type State int

const (
	StateUnauthenticated State = iota
	StateSessionRestoring
	StateCredentialsPending
	StateCodeTriggered
	StateCodeVerifying
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateSessionRestoring:
		return "session-restoring"
	case StateCredentialsPending:
		return "credentials-pending"
	case StateCodeTriggered:
		return "code-triggered"
	case StateCodeVerifying:
		return "code-verifying"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CodePrompter supplies the one-time code during login. The CLI backs it
// with a terminal prompt; tests supply canned codes. RequestCode must honor
// context cancellation.
type CodePrompter interface {
	RequestCode(ctx context.Context) (string, error)
}

// Config carries the tunables that were ambient globals in earlier
// incarnations of this client. Zero values select production defaults, so
// tests can build many independent clients in one process.
type Config struct {
	BaseURL     string
	SessionPath string

	// Sync engine knobs; zero means the production value.
	PollInterval        time.Duration // initial poll interval (500ms)
	PollCap             time.Duration // poll interval ceiling (2s)
	IncrementalDeadline time.Duration // 10s
	FullDeadline        time.Duration // 15s

	// DisableCaches bypasses the ephemeral profile cache. The conditional
	// ETag layer stays on; it is validity-driven, not time-driven.
	DisableCaches bool

	Logger *slog.Logger
}

// Client is one authenticated Any.do session: transport, caches, durable
// session state, and the auth/sync engines. A Client serves exactly one
// user and one caller at a time; for multiple users, build multiple
// Clients with separate session paths.
type Client struct {
	baseURL  string
	http     *transport.Client
	etags    *transport.ETagCache
	profiles *memcache.Cache
	store    *session.Store
	logger   *slog.Logger
	clientID string
	cfg      Config

	mu      sync.Mutex
	state   State
	sess    *session.Session
	sleepFn func(ctx context.Context, d time.Duration) error
	nowFn   func() time.Time
}

// NewClient builds a Client and loads any persisted session snapshot. The
// snapshot is only restored, not yet validated; call Restore or Login. A
// persistence failure is logged and the client starts unauthenticated.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollCap <= 0 {
		cfg.PollCap = 2 * time.Second
	}
	if cfg.IncrementalDeadline <= 0 {
		cfg.IncrementalDeadline = 10 * time.Second
	}
	if cfg.FullDeadline <= 0 {
		cfg.FullDeadline = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := transport.NewClient(defaultHeaders(), logger)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	httpClient.SetJar(jar)

	c := &Client{
		baseURL:  cfg.BaseURL,
		http:     httpClient,
		profiles: memcache.New(),
		store:    session.NewStore(cfg.SessionPath, logger),
		logger:   logger,
		clientID: uuid.NewString(),
		cfg:      cfg,
		state:    StateUnauthenticated,
		sleepFn:  sleepCtx,
		nowFn:    time.Now,
	}

	sess, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = session.New()
	}
	c.sess = sess
	c.etags = transport.NewETagCache(httpClient, sess.ETags)
	c.restoreTransportState()
	return c, nil
}

// Transport exposes the underlying retrying client for batch reads.
func (c *Client) Transport() *transport.Client { return c.http }

// State returns the current auth state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the live session. Callers must not retain it across
// Invalidate.
func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Stats returns transport counters.
func (c *Client) Stats() transport.Stats { return c.http.Stats() }

// RecordFingerprints stores export fingerprints and persists the session.
// Empty arguments leave the corresponding lineage untouched, so a caller
// that only exported one artifact does not clobber the other.
func (c *Client) RecordFingerprints(raw, pretty string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if raw != "" {
		c.sess.LastDataFingerprint = raw
	}
	if pretty != "" {
		c.sess.LastPrettyFingerprint = pretty
	}
	c.persist()
}

// restoreTransportState pushes persisted cookies and the auth token into
// the live transport.
func (c *Client) restoreTransportState() {
	if c.sess.AuthToken != "" {
		c.http.SetHeader(authTokenHeader, c.sess.AuthToken)
	}
	if len(c.sess.Cookies) == 0 {
		return
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	cookies := make([]*http.Cookie, 0, len(c.sess.Cookies))
	for _, ck := range c.sess.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: ck.Path})
	}
	c.http.Jar().SetCookies(u, cookies)
}

// snapshotCookies copies the live jar back into the session before a save.
func (c *Client) snapshotCookies() {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	live := c.http.Jar().Cookies(u)
	cookies := make([]session.Cookie, 0, len(live))
	for _, ck := range live {
		cookies = append(cookies, session.Cookie{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: u.Hostname(),
			Path:   "/",
		})
	}
	c.sess.Cookies = cookies
}

// persist snapshots live transport state into the session and writes it.
// Persistence failures are logged, not fatal: the flow continues and the
// worst case is a redundant refetch next run.
func (c *Client) persist() {
	c.snapshotCookies()
	c.sess.ETags = c.etags.Snapshot()
	if err := c.store.Save(c.sess); err != nil {
		c.logger.Warn("failed to persist session", "error", err)
	}
}

// invalidate discards the whole session: memory, transport headers, caches,
// and the on-disk snapshot. No partial session states survive.
func (c *Client) invalidate() {
	c.sess.Invalidate()
	c.http.RemoveHeader(authTokenHeader)
	c.etags.Clear()
	c.profiles.Clear()
	if jar, err := cookiejar.New(nil); err == nil {
		c.http.SetJar(jar)
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to remove session file", "error", err)
	}
}

// endpoint joins the base URL with a path.
func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// Restore validates a previously persisted session with one lightweight
// authenticated request. On success the client is Authenticated without
// touching the credential endpoints. On failure the entire persisted
// session is discarded and ErrSessionInvalid returned.
func (c *Client) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sess.Authenticated() {
		return &AuthError{State: StateSessionRestoring, Err: ErrSessionInvalid}
	}

	c.state = StateSessionRestoring
	resp, err := c.http.Do(ctx, http.MethodGet, c.endpoint("/me"), nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		c.invalidate()
		c.state = StateUnauthenticated
		if err != nil {
			c.logger.Info("session validation request failed", "error", err)
		} else {
			c.logger.Info("session rejected by server", "status", resp.StatusCode)
		}
		return &AuthError{State: StateSessionRestoring, Err: ErrSessionInvalid}
	}

	var profile map[string]any
	if err := json.Unmarshal(resp.Body, &profile); err == nil {
		c.sess.Profile = profile
	}
	c.state = StateAuthenticated
	c.logger.Info("session restored", "email", c.profileEmail())
	return nil
}

func (c *Client) profileEmail() string {
	if c.sess.Profile == nil {
		return ""
	}
	email, _ := c.sess.Profile["email"].(string)
	return email
}

// Profile returns the account profile, served from the ephemeral cache for
// up to 30 minutes. The conditional layer can still report a change sooner,
// which refreshes the cached body.
func (c *Client) Profile(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return nil, &AuthError{State: c.state, Err: ErrNotAuthenticated}
	}
	return c.fetchProfileLocked(ctx)
}

func (c *Client) fetchProfileLocked(ctx context.Context) (map[string]any, error) {
	profileURL := c.endpoint("/me")

	if !c.cfg.DisableCaches {
		if body, ok := c.profiles.Get(profileURL); ok {
			var profile map[string]any
			if err := json.Unmarshal(body, &profile); err == nil {
				return profile, nil
			}
		}
	}

	resp, err := c.etags.Do(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch {
	case resp.NotModified:
		// Unchanged per the server; fall back to the persisted copy.
		if cached, ok := c.sess.CachedBodies[profileURL]; ok {
			body = cached.Body
		} else if c.sess.Profile != nil {
			return c.sess.Profile, nil
		} else {
			return nil, fmt.Errorf("profile unchanged but no cached copy available")
		}
	case resp.StatusCode == http.StatusOK:
		body = resp.Body
	default:
		return nil, fmt.Errorf("profile fetch returned status %d", resp.StatusCode)
	}

	var profile map[string]any
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	c.sess.Profile = profile
	if !c.cfg.DisableCaches {
		c.profiles.Put(profileURL, body, profileTTL)
		c.sess.CachedBodies[profileURL] = session.CachedBody{
			Body:      body,
			ExpiresAt: c.nowFn().Add(profileTTL),
		}
	}
	return profile, nil
}

// updateTimezoneLocked pushes the local machine's timezone to the account,
// matching the web client's post-login handshake. Failure is logged and
// never demotes the authenticated state.
func (c *Client) updateTimezoneLocked(ctx context.Context) {
	zone := localTimezone()
	payload, err := json.Marshal(map[string]string{"timezone": zone})
	if err != nil {
		return
	}
	resp, err := c.http.Do(ctx, http.MethodPut, c.endpoint("/me"), &transport.Options{Body: payload})
	if err != nil {
		c.logger.Warn("timezone update failed", "zone", zone, "error", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("timezone update rejected", "zone", zone, "status", resp.StatusCode)
		return
	}
	c.logger.Debug("timezone updated", "zone", zone)
}

// timezoneNames maps common zone abbreviations to the IANA names the
// service expects.
var timezoneNames = map[string]string{
	"GMT": "Europe/London",
	"UTC": "UTC",
	"EST": "America/New_York",
	"EDT": "America/New_York",
	"PST": "America/Los_Angeles",
	"PDT": "America/Los_Angeles",
	"CST": "America/Chicago",
	"CDT": "America/Chicago",
	"MST": "America/Denver",
	"MDT": "America/Denver",
}

func localTimezone() string {
	abbr, _ := time.Now().Zone()
	if abbr == "" {
		return "UTC"
	}
	if name, ok := timezoneNames[abbr]; ok {
		return name
	}
	return abbr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
