package guard_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galadrimteam/goodfriend-relay/internal/config"
	"github.com/galadrimteam/goodfriend-relay/internal/dedupe"
	"github.com/galadrimteam/goodfriend-relay/internal/guard"
)

func snapshot(t *testing.T, mutate func(*config.Snapshot)) *config.Snapshot {
	t.Helper()
	snap := config.Default()
	snap.Security.AuthenticationTokens = []string{guard.DigestToken("secret")}
	v, err := config.ParseGameVersion("2024.01.01.0000.0000")
	require.NoError(t, err)
	snap.Security.MinimumGameVersion = v
	if mutate != nil {
		mutate(snap)
	}
	return snap
}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func hashFor(n int) string { return fmt.Sprintf("%064d", n) }

var salt = strings.Repeat("s", 32)

func TestAuthenticated(t *testing.T) {
	t.Parallel()

	snap := snapshot(t, nil)
	tests := []struct {
		name    string
		h       http.Header
		wantErr error
	}{
		{"valid token", headers(guard.AuthTokenHeader, "secret"), nil},
		{"valid token with spaces", headers(guard.AuthTokenHeader, "  secret "), nil},
		{"missing", headers(), guard.ErrMissingCredential},
		{"blank", headers(guard.AuthTokenHeader, "   "), guard.ErrMissingCredential},
		{"wrong", headers(guard.AuthTokenHeader, "not-secret"), guard.ErrInvalidCredential},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			adm, err := guard.Chain{guard.Authenticated()}.Evaluate(tt.h, snap)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, guard.DigestToken("secret"), adm.TokenDigest)
		})
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	open := snapshot(t, nil)
	restricted := snapshot(t, func(s *config.Snapshot) {
		s.Security.AllowedClientKeys = []string{"plugin"}
	})

	tests := []struct {
		name    string
		snap    *config.Snapshot
		h       http.Header
		wantKey string
		wantErr error
	}{
		{"open without key", open, headers(), "", nil},
		{"open captures key", open, headers(guard.ClientKeyHeader, "anything"), "anything", nil},
		{"restricted allowed", restricted, headers(guard.ClientKeyHeader, "plugin"), "plugin", nil},
		{"restricted missing", restricted, headers(), "", guard.ErrMissingKey},
		{"restricted blank", restricted, headers(guard.ClientKeyHeader, " "), "", guard.ErrMissingKey},
		{"restricted unknown", restricted, headers(guard.ClientKeyHeader, "other"), "", guard.ErrInvalidKey},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			adm, err := guard.Chain{guard.ClientKey()}.Evaluate(tt.h, tt.snap)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, adm.ClientKey)
		})
	}
}

func TestMinimumGameVersion(t *testing.T) {
	t.Parallel()

	snap := snapshot(t, nil)
	tests := []struct {
		name    string
		h       http.Header
		wantErr error
	}{
		{"outdated", headers(guard.GameVersionHeader, "2023.12.31.9999.9999"), guard.ErrVersionOutdated},
		{"newer", headers(guard.GameVersionHeader, "2024.01.01.0001.0000"), nil},
		{"equal", headers(guard.GameVersionHeader, "2024.01.01.0000.0000"), nil},
		{"garbage", headers(guard.GameVersionHeader, "garbage"), guard.ErrVersionMalformed},
		{"wrong width", headers(guard.GameVersionHeader, "2024.1.1.0.0"), guard.ErrVersionMalformed},
		{"absent", headers(), guard.ErrVersionNotPresent},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := guard.Chain{guard.MinimumGameVersion()}.Evaluate(tt.h, snap)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	snap := snapshot(t, func(s *config.Snapshot) {
		s.Security.BlockedUserAgents = map[string]config.BlockMode{
			"BadClient/1.0": config.ExactMatch,
			"scraper":       config.PartialMatch,
		}
	})

	tests := []struct {
		name    string
		agent   string
		wantErr error
	}{
		{"allowed", "GoodFriend/1.0", nil},
		{"exact banned", "BadClient/1.0", guard.ErrAgentBanned},
		{"exact prefix allowed", "BadClient/1.0.1", nil},
		{"partial banned", "my-scraper/2", guard.ErrAgentBanned},
		{"missing", "", guard.ErrAgentMissing},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := headers()
			if tt.agent != "" {
				h.Set(guard.UserAgentHeader, tt.agent)
			}
			_, err := guard.Chain{guard.UserAgent()}.Evaluate(h, snap)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUniqueContentID(t *testing.T) {
	t.Parallel()

	snap := snapshot(t, nil)
	cache := dedupe.New(10)
	chain := guard.Chain{guard.UniqueContentID(cache)}

	_, err := chain.Evaluate(headers(guard.ContentIDSaltHeader, salt), snap)
	assert.ErrorIs(t, err, guard.ErrHashMissing)

	_, err = chain.Evaluate(headers(guard.ContentIDHashHeader, hashFor(1)), snap)
	assert.ErrorIs(t, err, guard.ErrSaltMissing)

	_, err = chain.Evaluate(headers(guard.ContentIDHashHeader, "short", guard.ContentIDSaltHeader, salt), snap)
	assert.ErrorIs(t, err, guard.ErrHashOrSaltInvalid)
	assert.Equal(t, 0, cache.Len())

	adm, err := chain.Evaluate(headers(guard.ContentIDHashHeader, hashFor(1), guard.ContentIDSaltHeader, salt), snap)
	require.NoError(t, err)
	assert.Equal(t, hashFor(1), adm.Fingerprint.Hash)
	assert.Equal(t, salt, adm.Fingerprint.Salt)

	_, err = chain.Evaluate(headers(guard.ContentIDHashHeader, hashFor(1), guard.ContentIDSaltHeader, salt), snap)
	assert.ErrorIs(t, err, guard.ErrContentIDDuplicate)
}

func TestChainRejectsBeforeConsumingCacheSlot(t *testing.T) {
	t.Parallel()

	snap := snapshot(t, nil)
	cache := dedupe.New(10)
	chain := guard.Chain{guard.UserAgent(), guard.MinimumGameVersion(), guard.UniqueContentID(cache)}

	h := headers(
		guard.UserAgentHeader, "GoodFriend/1.0",
		guard.GameVersionHeader, "2020.01.01.0000.0000",
		guard.ContentIDHashHeader, hashFor(7),
		guard.ContentIDSaltHeader, salt,
	)
	_, err := chain.Evaluate(h, snap)
	assert.ErrorIs(t, err, guard.ErrVersionOutdated)
	assert.Equal(t, 0, cache.Len())

	h.Set(guard.GameVersionHeader, "2024.02.01.0000.0000")
	adm, err := chain.Evaluate(h, snap)
	require.NoError(t, err)
	assert.Equal(t, "GoodFriend/1.0", adm.UserAgent)
	assert.Equal(t, "2024.02.01.0000.0000", adm.GameVersion.String())
	assert.Equal(t, 1, cache.Len())
}

func TestRejectionStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    *guard.Rejection
		status int
		code   string
	}{
		{guard.ErrMissingCredential, http.StatusUnauthorized, "MissingCredential"},
		{guard.ErrInvalidCredential, http.StatusForbidden, "InvalidCredential"},
		{guard.ErrMissingKey, http.StatusUnauthorized, "MissingKey"},
		{guard.ErrInvalidKey, http.StatusForbidden, "InvalidKey"},
		{guard.ErrVersionNotPresent, http.StatusBadRequest, "NotPresent"},
		{guard.ErrVersionMalformed, http.StatusBadRequest, "Malformed"},
		{guard.ErrVersionOutdated, http.StatusForbidden, "Outdated"},
		{guard.ErrAgentMissing, http.StatusBadRequest, "AgentMissing"},
		{guard.ErrAgentBanned, http.StatusForbidden, "AgentBanned"},
		{guard.ErrHashMissing, http.StatusBadRequest, "HashMissing"},
		{guard.ErrSaltMissing, http.StatusBadRequest, "SaltMissing"},
		{guard.ErrHashOrSaltInvalid, http.StatusBadRequest, "HashOrSaltInvalid"},
		{guard.ErrContentIDDuplicate, http.StatusConflict, "ContentIdDuplicate"},
	}

	for _, tt := range tests {
		tt := tt
		assert.Equal(t, tt.status, tt.err.Status, tt.code)
		assert.Equal(t, tt.code, tt.err.Code)
	}
}

func TestDispatcherRequire(t *testing.T) {
	t.Parallel()

	store := config.NewStore(snapshot(t, nil))
	d := guard.NewDispatcher(store)

	var rejected []string
	d.OnReject = func(_ *http.Request, err error) {
		rej, ok := guard.AsRejection(err)
		require.True(t, ok)
		rejected = append(rejected, rej.Code)
	}

	var seen *guard.Admission
	h := d.Require(guard.Authenticated())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = guard.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "MissingCredential", body["error"])
	assert.Nil(t, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(guard.AuthTokenHeader, "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, guard.DigestToken("secret"), seen.TokenDigest)
	assert.Equal(t, []string{"MissingCredential"}, rejected)
}

func TestDispatcherFollowsSnapshotSwaps(t *testing.T) {
	t.Parallel()

	store := config.NewStore(snapshot(t, nil))
	d := guard.NewDispatcher(store)
	h := d.Require(guard.Authenticated())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(guard.AuthTokenHeader, "rotated")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, do())
	store.Swap(snapshot(t, func(s *config.Snapshot) {
		s.Security.AuthenticationTokens = []string{guard.DigestToken("rotated")}
	}))
	assert.Equal(t, http.StatusOK, do())
}
