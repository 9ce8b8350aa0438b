package guard

import (
	"errors"
	"net/http"
)

// Rejection is a guard failure with a stable, client visible code.
type Rejection struct {
	Code   string
	Status int
	msg    string
}

func (r *Rejection) Error() string {
	return r.msg
}

// NewRejection creates a rejection with the given stable code and status.
func NewRejection(code string, status int, msg string) *Rejection {
	return &Rejection{Code: code, Status: status, msg: msg}
}

// Authentication.
var (
	ErrMissingCredential = NewRejection("MissingCredential", http.StatusUnauthorized, "no authentication token was sent")
	ErrInvalidCredential = NewRejection("InvalidCredential", http.StatusForbidden, "authentication token is not valid")
)

// Client key.
var (
	ErrMissingKey = NewRejection("MissingKey", http.StatusUnauthorized, "no client key was sent")
	ErrInvalidKey = NewRejection("InvalidKey", http.StatusForbidden, "client key is not allowed")
)

// Game version.
var (
	ErrVersionNotPresent = NewRejection("NotPresent", http.StatusBadRequest, "no game version was sent")
	ErrVersionMalformed  = NewRejection("Malformed", http.StatusBadRequest, "game version is malformed")
	ErrVersionOutdated   = NewRejection("Outdated", http.StatusForbidden, "game version is older than the minimum supported version")
)

// User agent.
var (
	ErrAgentMissing = NewRejection("AgentMissing", http.StatusBadRequest, "no user agent was sent")
	ErrAgentBanned  = NewRejection("AgentBanned", http.StatusForbidden, "user agent is banned")
)

// Content id fingerprint.
var (
	ErrHashMissing        = NewRejection("HashMissing", http.StatusBadRequest, "no content id hash was sent")
	ErrSaltMissing        = NewRejection("SaltMissing", http.StatusBadRequest, "no content id salt was sent")
	ErrHashOrSaltInvalid  = NewRejection("HashOrSaltInvalid", http.StatusBadRequest, "content id hash or salt is too short")
	ErrContentIDDuplicate = NewRejection("ContentIdDuplicate", http.StatusConflict, "content id hash was already used")
)

// AsRejection extracts the *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Rate limiting.
var ErrRateLimited = NewRejection("RateLimited", http.StatusTooManyRequests, "too many requests")
