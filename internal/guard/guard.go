// Package guard implements the ordered admission checks that run before a
// request reaches its handler.
//
// A Guard inspects request headers against the current configuration
// snapshot. It either admits the request, optionally recording extracted data
// on the Admission, or returns a *Rejection. Guards never modify the
// configuration; only UniqueContentID mutates shared state.
package guard

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/galadrimteam/goodfriend-relay/internal/config"
	"github.com/galadrimteam/goodfriend-relay/internal/dedupe"
)

// Request headers read by the guards.
const (
	AuthTokenHeader     = "X-Auth-Token"
	ClientKeyHeader     = "X-Client-Key"
	GameVersionHeader   = "X-Game-Version"
	UserAgentHeader     = "User-Agent"
	ContentIDHashHeader = "X-Content-Id-Hash"
	ContentIDSaltHeader = "X-Content-Id-Salt"
)

// Admission carries the data extracted by the guards that admitted a request.
type Admission struct {
	TokenDigest string
	ClientKey   string
	UserAgent   string
	GameVersion config.GameVersion
	Fingerprint dedupe.Fingerprint
}

// Guard checks one aspect of a request.
type Guard func(h http.Header, snap *config.Snapshot, adm *Admission) error

// Chain is an ordered list of guards. Evaluation stops at the first
// rejection.
type Chain []Guard

// Evaluate runs every guard in order against a single snapshot.
func (c Chain) Evaluate(h http.Header, snap *config.Snapshot) (*Admission, error) {
	adm := &Admission{}
	for _, g := range c {
		if err := g(h, snap, adm); err != nil {
			return nil, err
		}
	}
	return adm, nil
}

// DigestToken returns the hex encoded SHA-512 digest of token, the form in
// which authentication tokens are configured.
func DigestToken(token string) string {
	sum := sha512.Sum512([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticated requires an X-Auth-Token whose digest is configured.
func Authenticated() Guard {
	return func(h http.Header, snap *config.Snapshot, adm *Admission) error {
		token := strings.TrimSpace(h.Get(AuthTokenHeader))
		if token == "" {
			return ErrMissingCredential
		}
		digest := DigestToken(token)
		if !snap.HasTokenDigest(digest) {
			return ErrInvalidCredential
		}
		adm.TokenDigest = digest
		return nil
	}
}

// ClientKey enforces the client key allow-list when one is configured and
// otherwise only records whatever key was sent.
func ClientKey() Guard {
	return func(h http.Header, snap *config.Snapshot, adm *Admission) error {
		key := strings.TrimSpace(h.Get(ClientKeyHeader))
		if !snap.ClientKeysEnforced() {
			adm.ClientKey = key
			return nil
		}
		if key == "" {
			return ErrMissingKey
		}
		if !snap.HasClientKey(key) {
			return ErrInvalidKey
		}
		adm.ClientKey = key
		return nil
	}
}

// MinimumGameVersion rejects clients older than the configured minimum.
func MinimumGameVersion() Guard {
	return func(h http.Header, snap *config.Snapshot, adm *Admission) error {
		raw := strings.TrimSpace(h.Get(GameVersionHeader))
		if raw == "" {
			return ErrVersionNotPresent
		}
		v, err := config.ParseGameVersion(raw)
		if err != nil {
			return ErrVersionMalformed
		}
		if v.Less(snap.MinimumGameVersion()) {
			return ErrVersionOutdated
		}
		adm.GameVersion = v
		return nil
	}
}

// UserAgent rejects requests without a user agent or with a blocked one.
func UserAgent() Guard {
	return func(h http.Header, snap *config.Snapshot, adm *Admission) error {
		agent := h.Get(UserAgentHeader)
		if agent == "" {
			return ErrAgentMissing
		}
		if snap.AgentBlocked(agent) {
			return ErrAgentBanned
		}
		adm.UserAgent = agent
		return nil
	}
}

// UniqueContentID requires a well formed content id fingerprint that has not
// been used recently. It must be the last guard of a chain so that a request
// rejected for any other reason never consumes a cache slot.
func UniqueContentID(cache *dedupe.Cache) Guard {
	return func(h http.Header, _ *config.Snapshot, adm *Admission) error {
		hash := h.Values(ContentIDHashHeader)
		if len(hash) == 0 {
			return ErrHashMissing
		}
		salt := h.Values(ContentIDSaltHeader)
		if len(salt) == 0 {
			return ErrSaltMissing
		}

		fp := dedupe.Fingerprint{Hash: hash[0], Salt: salt[0]}
		switch err := cache.CheckAndInsert(fp); {
		case errors.Is(err, dedupe.ErrHashOrSaltInvalid):
			return ErrHashOrSaltInvalid
		case errors.Is(err, dedupe.ErrDuplicate):
			return ErrContentIDDuplicate
		case err != nil:
			return err
		}
		adm.Fingerprint = fp
		return nil
	}
}
