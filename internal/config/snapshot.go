// Package config holds the relay's hot swappable configuration snapshot, its
// YAML file loader and watcher, and the process settings read from the
// environment.
package config

import (
	"encoding/hex"
	"net/url"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// CurrentVersion is the schema version written into new config files.
const CurrentVersion = 1

var (
	ErrInvalidTokenDigest = errors.New("authentication token digests must be 128 character hex encoded SHA-512 hashes")
	ErrInvalidCustomURL   = errors.New("custom urls must be absolute urls")
	ErrEmptyBlockedAgent  = errors.New("blocked user agent entries must not be empty")
)

// BlockMode decides how a blocked user agent entry is matched.
type BlockMode int

const (
	ExactMatch BlockMode = iota
	PartialMatch
)

func (m BlockMode) String() string {
	if m == PartialMatch {
		return "partial"
	}
	return "exact"
}

// MarshalText implements encoding.TextMarshaler.
func (m BlockMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *BlockMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "exact", "exactmatch":
		*m = ExactMatch
	case "partial", "partialmatch":
		*m = PartialMatch
	default:
		return errors.Errorf("unknown user agent block mode %q", text)
	}
	return nil
}

// Matches reports whether agent is blocked by the entry blocked under mode m.
func (m BlockMode) Matches(agent, blocked string) bool {
	if m == PartialMatch {
		return strings.Contains(agent, blocked)
	}
	return agent == blocked
}

// About is public information about this relay instance.
type About struct {
	Identifier  string            `yaml:"identifier" json:"identifier"`
	BannerURL   string            `yaml:"banner_url" json:"banner_url"`
	Description string            `yaml:"description" json:"description"`
	CustomURLs  map[string]string `yaml:"custom_urls" json:"custom_urls"`
}

// Security holds everything the admission guards consult.
type Security struct {
	// AuthenticationTokens are hex encoded SHA-512 digests of accepted
	// X-Auth-Token values.
	AuthenticationTokens []string `yaml:"authentication_tokens"`
	// AllowedClientKeys restricts stream and publish access to known clients
	// when non-empty.
	AllowedClientKeys  []string             `yaml:"allowed_client_keys"`
	MinimumGameVersion GameVersion          `yaml:"minimum_game_version"`
	BlockedUserAgents  map[string]BlockMode `yaml:"blocked_user_agents"`
}

// Snapshot is an immutable point in time configuration. Never modify a
// Snapshot obtained from a Store; build a new one and Swap it in.
type Snapshot struct {
	Version  int      `yaml:"version"`
	About    About    `yaml:"about"`
	Security Security `yaml:"security"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Snapshot {
	return &Snapshot{
		Version: CurrentVersion,
		About: About{
			Identifier: "GoodFriend",
			BannerURL:  "https://raw.githubusercontent.com/Blooym/GoodFriend/main/src/Api/static/banner.png",
			CustomURLs: map[string]string{},
		},
		Security: Security{
			AuthenticationTokens: []string{},
			AllowedClientKeys:    []string{},
			MinimumGameVersion:   DefaultMinimumGameVersion,
			BlockedUserAgents:    map[string]BlockMode{},
		},
	}
}

// Validate checks the snapshot for values the guards cannot work with.
func (s *Snapshot) Validate() error {
	for _, digest := range s.Security.AuthenticationTokens {
		if len(digest) != 128 {
			return ErrInvalidTokenDigest
		}
		if _, err := hex.DecodeString(digest); err != nil {
			return ErrInvalidTokenDigest
		}
	}
	for name, raw := range s.About.CustomURLs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return errors.WithMessagef(ErrInvalidCustomURL, "custom url %q", name)
		}
	}
	for agent := range s.Security.BlockedUserAgents {
		if agent == "" {
			return ErrEmptyBlockedAgent
		}
	}
	return nil
}

// HasTokenDigest reports whether digest is a configured authentication token
// digest. Comparison is case insensitive.
func (s *Snapshot) HasTokenDigest(digest string) bool {
	return slices.ContainsFunc(s.Security.AuthenticationTokens, func(d string) bool {
		return strings.EqualFold(d, digest)
	})
}

// ClientKeysEnforced reports whether the client key allow-list is active.
func (s *Snapshot) ClientKeysEnforced() bool {
	return len(s.Security.AllowedClientKeys) > 0
}

// HasClientKey reports whether key is on the allow-list.
func (s *Snapshot) HasClientKey(key string) bool {
	return slices.Contains(s.Security.AllowedClientKeys, key)
}

// MinimumGameVersion returns the configured minimum, falling back to
// DefaultMinimumGameVersion when unset.
func (s *Snapshot) MinimumGameVersion() GameVersion {
	if s.Security.MinimumGameVersion.IsZero() {
		return DefaultMinimumGameVersion
	}
	return s.Security.MinimumGameVersion
}

// AgentBlocked reports whether agent matches any blocklist entry.
func (s *Snapshot) AgentBlocked(agent string) bool {
	for blocked, mode := range s.Security.BlockedUserAgents {
		if mode.Matches(agent, blocked) {
			return true
		}
	}
	return false
}
