package types

import "time"

// SessionInfo is the public descriptor of one running analytics session.
type SessionInfo struct {
	// Stable session identifier.
	// example: 6f1c2a9e-6a7e-4a44-9b1d-1f6a2cfa2d7a
	ID string `json:"id"`
	// Source descriptor the session was started with (device index, file
	// path or stream URL).
	// example: rtsp://cam1.local/stream
	Source string `json:"source"`
	// Wall-clock time the session was registered.
	StartedAt time.Time `json:"started_at"`
	// Time after which the sweeper will stop the session. Nil means the
	// session never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Requested lifetime in minutes; -1 means no expiry.
	// example: 10
	LifetimeMinutes int `json:"lifetime_minutes"`
}

// StartRequest is the payload used to start a new session.
type StartRequest struct {
	// Required source descriptor: camera index ("0"), file path or URL.
	// example: 0
	Source string `json:"source"`
	// Lifetime in minutes. -1 disables expiry; omitted uses the server
	// default.
	// example: 10
	LifetimeMinutes *int `json:"lifetime_minutes,omitempty"`
}

// SessionsResponse wraps the list returned by GET /streams.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// Identity is one registered identity in the store.
type Identity struct {
	// Display name drawn on annotated frames.
	// example: Ada Lovelace
	Name string `json:"name" yaml:"name"`
	// Caller-supplied external identifier.
	// example: EMP-0042
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	// Embedding vector produced by the recognition model.
	Embedding []float32 `json:"embedding" yaml:"embedding"`
}

// ErrorResponse is the JSON error payload returned by the HTTP layer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// StatusResponse reports daemon-level health for GET /status.
type StatusResponse struct {
	PoolCapacity   int `json:"pool_capacity"`
	PoolAvailable  int `json:"pool_available"`
	ActiveSessions int `json:"active_sessions"`
}
