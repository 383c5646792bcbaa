// Package session holds the durable client state: cookies, auth token,
// profile, sync watermark, change-detection fingerprints, ETags, and cached
// bodies. The whole snapshot is persisted after each successful mutation and
// loaded once at startup.
package session

import "time"

const snapshotVersion = 1

// Cookie is one serializable cookie from the authenticated session.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// CachedBody is a persisted ephemeral-cache entry.
type CachedBody struct {
	Body      []byte    `json:"body"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is the full client state. AuthToken and Profile are present only
// once authentication has succeeded; invalidation clears every field
// together, never partially.
type Session struct {
	Version               int                   `json:"version"`
	Cookies               []Cookie              `json:"cookies"`
	AuthToken             string                `json:"auth_token,omitempty"`
	Profile               map[string]any        `json:"profile,omitempty"`
	LastSyncTimestamp     int64                 `json:"last_sync_timestamp,omitempty"` // ms epoch
	LastDataFingerprint   string                `json:"last_data_fingerprint,omitempty"`
	LastPrettyFingerprint string                `json:"last_pretty_fingerprint,omitempty"`
	CachedBodies          map[string]CachedBody `json:"cached_bodies,omitempty"`
	ETags                 map[string]string     `json:"etags,omitempty"`
	SavedAt               time.Time             `json:"saved_at"`
}

// New returns an empty unauthenticated session.
func New() *Session {
	return &Session{
		Version:      snapshotVersion,
		CachedBodies: make(map[string]CachedBody),
		ETags:        make(map[string]string),
	}
}

// Authenticated reports whether the session has passed authentication.
func (s *Session) Authenticated() bool {
	if s == nil {
		return false
	}
	return s.AuthToken != "" || (len(s.Cookies) > 0 && s.Profile != nil)
}

// Invalidate clears every field at once. Partial session states are never
// kept: a failed cookie validation discards the watermark and fingerprints
// along with the credentials.
func (s *Session) Invalidate() {
	s.Cookies = nil
	s.AuthToken = ""
	s.Profile = nil
	s.LastSyncTimestamp = 0
	s.LastDataFingerprint = ""
	s.LastPrettyFingerprint = ""
	s.CachedBodies = make(map[string]CachedBody)
	s.ETags = make(map[string]string)
}
