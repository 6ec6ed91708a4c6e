package models

import (
	"net/http"
	"time"
)

// EndpointClass categorizes endpoints for differentiated rate limiting.
type EndpointClass string

const (
	// ClassAuth covers login and registration, the credential guessing surface.
	ClassAuth EndpointClass = "auth"
	// ClassWrite covers mutations, most of which end in a ledger write.
	ClassWrite EndpointClass = "write"
	// ClassRead covers everything else.
	ClassRead EndpointClass = "read"
)

// Classify assigns a request to its endpoint class.
func Classify(r *http.Request) EndpointClass {
	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/api/users/login", "/api/users/register":
			return ClassAuth
		}
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	}
	return ClassWrite
}

// Limit is the request budget of a class per window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RateLimitExceededResponse is the body of a 429.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}
