package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "channelstock", ExpirationMinutes: 30}

func frozenIssuer(t *testing.T, cfg config.JWTConfig, at time.Time) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(cfg)
	require.NoError(t, err)
	issuer.now = func() time.Time { return at }
	return issuer
}

func TestMintParseRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := frozenIssuer(t, testCfg, at)
	payload := AccessTokenPayload{UserID: uuid.New(), StoreID: uuid.New(), Role: enums.MemberRoleOperator}

	token, minted, err := issuer.Mint(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, at.Add(30*time.Minute), minted.ExpiresAt.Time)
	assert.Equal(t, payload.UserID.String(), minted.Subject)
	assert.NotEmpty(t, minted.ID)

	parsed, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, payload.UserID, parsed.UserID)
	assert.Equal(t, payload.StoreID, parsed.StoreID)
	assert.Equal(t, enums.MemberRoleOperator, parsed.Role)
	assert.Equal(t, testCfg.Issuer, parsed.Issuer)
	assert.Equal(t, minted.ID, parsed.ID)
}

func TestMintHonoursExplicitTTLAndJTI(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := frozenIssuer(t, testCfg, at)

	_, claims, err := issuer.Mint(AccessTokenPayload{StoreID: uuid.New(), Role: enums.MemberRoleViewer, JTI: " ci-run-7 "}, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, at.Add(5*time.Minute), claims.ExpiresAt.Time)
	assert.Equal(t, "ci-run-7", claims.ID)
}

func TestMintRejectsBadPayloads(t *testing.T) {
	issuer := frozenIssuer(t, testCfg, time.Now())
	cases := map[string]struct {
		payload AccessTokenPayload
		ttl     time.Duration
	}{
		"no role":      {payload: AccessTokenPayload{StoreID: uuid.New()}},
		"unknown role": {payload: AccessTokenPayload{StoreID: uuid.New(), Role: "root"}},
		"no store":     {payload: AccessTokenPayload{Role: enums.MemberRoleOwner}},
		"negative ttl": {payload: AccessTokenPayload{StoreID: uuid.New(), Role: enums.MemberRoleOwner}, ttl: -time.Minute},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := issuer.Mint(tc.payload, tc.ttl)
			assert.Error(t, err)
		})
	}
}

func TestParseClassifiesFailures(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := frozenIssuer(t, testCfg, at)
	token, _, err := issuer.Mint(AccessTokenPayload{StoreID: uuid.New(), Role: enums.MemberRoleAdmin}, 10*time.Minute)
	require.NoError(t, err)

	foreign := frozenIssuer(t, config.JWTConfig{Secret: "secret", Issuer: "someone-else", ExpirationMinutes: 10}, at)
	foreignToken, _, err := foreign.Mint(AccessTokenPayload{StoreID: uuid.New(), Role: enums.MemberRoleAdmin}, 0)
	require.NoError(t, err)

	cases := []struct {
		name  string
		raw   string
		clock time.Time
		want  error
	}{
		{"tampered signature", token + "x", at, ErrTokenInvalid},
		{"garbage", "not-a-jwt", at, ErrTokenInvalid},
		{"foreign issuer", foreignToken, at, ErrTokenInvalid},
		{"inside clock skew", token, at.Add(10*time.Minute + 10*time.Second), nil},
		{"expired", token, at.Add(11 * time.Minute), ErrTokenExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issuer.now = func() time.Time { return tc.clock }
			_, err := issuer.Parse(tc.raw)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestConfigHelpers(t *testing.T) {
	token, err := MintAccessToken(testCfg, time.Now().Add(-time.Hour), AccessTokenPayload{StoreID: uuid.New(), Role: enums.MemberRoleAdmin})
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	token, err = MintAccessToken(testCfg, time.Now(), AccessTokenPayload{StoreID: uuid.New(), Role: enums.MemberRoleAdmin})
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, token)
	assert.NoError(t, err)
}

func TestNewIssuerRequiresSecretAndIssuer(t *testing.T) {
	_, err := NewIssuer(config.JWTConfig{Issuer: "x"})
	assert.Error(t, err)
	_, err = NewIssuer(config.JWTConfig{Secret: "x"})
	assert.Error(t, err)
}
