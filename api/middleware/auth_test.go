package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelstock-backend/pkg/auth"
	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "channelstock", ExpirationMinutes: 10}

func testIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer(testJWT)
	require.NoError(t, err)
	return issuer
}

func signed(t *testing.T, issuedAt time.Time, storeID uuid.UUID, role enums.MemberRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, issuedAt, auth.AccessTokenPayload{
		UserID:  uuid.New(),
		StoreID: storeID,
		Role:    role,
	})
	require.NoError(t, err)
	return token
}

// storeless signs a token by hand since the issuer refuses to mint one.
func storeless(t *testing.T) string {
	t.Helper()
	now := time.Now()
	claims := auth.AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.MemberRoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)
	return token
}

func TestAuthRejections(t *testing.T) {
	issuer := testIssuer(t)
	cases := []struct {
		name    string
		parser  TokenParser
		header  string
		status  int
		message string
	}{
		{name: "missing header", parser: issuer, status: http.StatusUnauthorized, message: "missing credentials"},
		{name: "empty bearer", parser: issuer, header: "Bearer   ", status: http.StatusUnauthorized, message: "missing credentials"},
		{name: "garbage", parser: issuer, header: "Bearer invalid", status: http.StatusUnauthorized, message: "invalid token"},
		{
			name:    "expired",
			parser:  issuer,
			header:  "Bearer " + signed(t, time.Now().Add(-2*time.Hour), uuid.New(), enums.MemberRoleOwner),
			status:  http.StatusUnauthorized,
			message: "token expired",
		},
		{name: "no store", parser: issuer, header: "Bearer " + storeless(t), status: http.StatusForbidden, message: "token carries no store"},
		{
			name:    "no parser",
			header:  "Bearer " + signed(t, time.Now(), uuid.New(), enums.MemberRoleOwner),
			status:  http.StatusUnauthorized,
			message: "token verification unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached := false
			handler := Auth(tc.parser, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, reached)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.message)
		})
	}
}

func TestAuthSeedsPrincipal(t *testing.T) {
	storeID := uuid.New()
	token := signed(t, time.Now(), storeID, enums.MemberRoleOperator)

	for _, header := range []string{"Bearer " + token, "bearer " + token, token} {
		var got Principal
		handler := Auth(testIssuer(t), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = PrincipalFrom(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code, strings.Fields(header)[0])
		assert.NotEmpty(t, got.UserID)
		assert.Equal(t, string(enums.MemberRoleOperator), got.Role)
		assert.Equal(t, storeID.String(), got.StoreID)
	}
}

func TestRequireRoles(t *testing.T) {
	handler := RequireRoles(nil, enums.MemberRoleOwner, enums.MemberRoleAdmin, enums.MemberRoleOperator)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	for role, want := range map[enums.MemberRole]int{
		enums.MemberRoleViewer:   http.StatusForbidden,
		enums.MemberRoleOperator: http.StatusOK,
		enums.MemberRoleOwner:    http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(withRole(req.Context(), string(role)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "role %s", role)
	}
}

func TestStoreContextRequiresUUID(t *testing.T) {
	handler := StoreContext(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithStoreID(req.Context(), "not-a-uuid"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStoreContextChecksAssertedStore(t *testing.T) {
	storeID := uuid.New()
	handler := StoreContext(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for header, want := range map[string]int{
		"": http.StatusOK,
		storeID.String():   http.StatusOK,
		uuid.NewString():   http.StatusForbidden,
		"not-a-store-uuid": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithStoreID(req.Context(), storeID.String()))
		if header != "" {
			req.Header.Set(StoreHeader, header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "header %q", header)
	}
}
