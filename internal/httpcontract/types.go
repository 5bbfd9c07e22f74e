// Package httpcontract defines the wire contract shared with the webhook
// inspection service: REST routes, JSON shapes and push event names.
package httpcontract

import (
	"encoding/json"
	"time"
)

// API route constants
const (
	RouteSignup = "/api/auth/signup"
	RouteSignin = "/api/auth/signin"
	RoutePaths  = "/api/paths/" // + {id}, {id}/data/, {id}/chart/
	RouteWS     = "/ws/"
)

// Push event names delivered over the transport channel.
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventWebhookUpdate = "webhook_update"
)

// Envelope is the service's uniform response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// Path is a named endpoint the service monitors for inbound webhooks.
type Path struct {
	ID           string    `json:"id"`
	Route        string    `json:"path"`
	Description  string    `json:"description"`
	WebhookCount int       `json:"webhook_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// WebhookRecord is one captured inbound request for a path. Records are
// immutable once received; the payload is opaque and never interpreted.
type WebhookRecord struct {
	ID          string          `json:"id"`
	PathID      string          `json:"path_id"`
	ReceivedAt  time.Time       `json:"received_at"`
	ContentType string          `json:"content_type"`
	IPAddress   string          `json:"ip_address"`
	Payload     json.RawMessage `json:"payload"`
}

// RecordPage is a slice of records for one path, newest first.
type RecordPage struct {
	Route      string          `json:"path"`
	TotalCount int             `json:"total_count"`
	Limit      int             `json:"limit"`
	Skip       int             `json:"skip"`
	Data       []WebhookRecord `json:"data"`
}

// ChartSeries holds per-minute event counts as two parallel sequences.
// Timestamps are millisecond epoch values aligned to minute boundaries,
// ascending and unique.
type ChartSeries struct {
	Timestamps []int64 `json:"timestamps"`
	Counts     []int   `json:"counts"`
}

// Len returns the number of buckets in the series.
func (s ChartSeries) Len() int { return len(s.Timestamps) }

// SignupResult is returned when a new account is registered. The TOTP
// secret is shown exactly once.
type SignupResult struct {
	Email     string    `json:"email"`
	SecretKey string    `json:"secret_key"`
	CreatedAt time.Time `json:"created_at"`
}

// SigninResult carries the bearer credential for an authenticated session.
type SigninResult struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// AuthAck is the payload of the "authenticated" channel event.
type AuthAck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Email   string `json:"email,omitempty"`
}

// AuthOK is the Status value of a successful channel authentication.
const AuthOK = "success"
