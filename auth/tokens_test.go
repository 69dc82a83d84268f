package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mededge/pulse/fault"
)

func testTokens(t *testing.T, ttl time.Duration) *Tokens {
	t.Helper()
	var tokens, err = NewTokens(Config{Secret: "unit-test-secret", Algorithm: "HS256", AccessTTL: ttl})
	require.NoError(t, err)
	return tokens
}

func TestIssueVerifyRoundtrip(t *testing.T) {
	var tokens = testTokens(t, time.Hour)

	var signed, err = tokens.Issue(Identity{UserID: 42, Username: "zhang", Scope: "user"})
	require.NoError(t, err)

	id, err := tokens.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: 42, Username: "zhang", Scope: "user"}, id)
}

func TestVerifyRejectsExpired(t *testing.T) {
	var tokens = testTokens(t, -time.Minute)

	var signed, err = tokens.Issue(Identity{UserID: 42})
	require.NoError(t, err)

	_, err = tokens.Verify(signed)
	require.True(t, fault.IsKind(err, fault.KindUnauthorized))
	require.Contains(t, err.Error(), "token expired")
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	var ours = testTokens(t, time.Hour)
	var theirs, err = NewTokens(Config{Secret: "other-secret", Algorithm: "HS256", AccessTTL: time.Hour})
	require.NoError(t, err)

	signed, err := theirs.Issue(Identity{UserID: 42})
	require.NoError(t, err)

	_, err = ours.Verify(signed)
	require.True(t, fault.IsKind(err, fault.KindUnauthorized))
}

func TestVerifyRejectsAlgorithmSubstitution(t *testing.T) {
	var hs256 = testTokens(t, time.Hour)
	var hs512, err = NewTokens(Config{Secret: "unit-test-secret", Algorithm: "HS512", AccessTTL: time.Hour})
	require.NoError(t, err)

	// Same secret, different algorithm: still rejected.
	signed, err := hs512.Issue(Identity{UserID: 42})
	require.NoError(t, err)

	_, err = hs256.Verify(signed)
	require.True(t, fault.IsKind(err, fault.KindUnauthorized))
}

func TestNewTokensRejectsBadConfig(t *testing.T) {
	var _, err = NewTokens(Config{Secret: "s", Algorithm: "RS256", AccessTTL: time.Hour})
	require.Error(t, err, "asymmetric algorithms need key material this config cannot carry")

	_, err = NewTokens(Config{Secret: "", Algorithm: "HS256", AccessTTL: time.Hour})
	require.Error(t, err)
}

func TestRefreshIssuesFreshToken(t *testing.T) {
	var tokens = testTokens(t, time.Hour)

	var signed, err = tokens.Issue(Identity{UserID: 42, Username: "zhang", Scope: "user"})
	require.NoError(t, err)

	// Refresh keeps the identity.
	refreshed, err := tokens.Refresh(signed)
	require.NoError(t, err)

	id, err := tokens.Verify(refreshed)
	require.NoError(t, err)
	require.Equal(t, int64(42), id.UserID)
	require.Equal(t, "zhang", id.Username)

	// An expired token cannot be refreshed.
	var stale = testTokens(t, -time.Minute)
	signed, err = stale.Issue(Identity{UserID: 42})
	require.NoError(t, err)
	_, err = stale.Refresh(signed)
	require.True(t, fault.IsKind(err, fault.KindUnauthorized))
}
