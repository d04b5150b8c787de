package token

import (
	"testing"
	"time"

	"github.com/TBD54566975/ssi-sdk/crypto"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/internal/util"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
)

const testIssuer = "https://idp.example.com"

func testTokenService(t *testing.T, clk clock.Clock) *Service {
	t.Helper()
	signing, err := NewSigningContext(testIssuer, crypto.Ed25519)
	require.NoError(t, err)
	service, err := NewTokenService(config.TokenServiceConfig{
		BaseServiceConfig: &config.BaseServiceConfig{Name: "token"},
		KeyType:           "Ed25519",
		TokenTTL:          5 * time.Minute,
	}, signing, clk)
	require.NoError(t, err)
	return service
}

func testSession() session.Session {
	return session.Session{
		ID: "f8a9e2f1-0b5c-4e6d-9a3f-1c2d3e4f5a6b",
		AuthRequest: oidc.AuthorizationRequest{
			ResponseTypes: []oidc.ResponseType{oidc.ResponseTypeCode},
			ClientID:      "test-client",
			Scopes:        []string{"openid", "profile"},
			Nonce:         "n-0S6_WzA2Mj",
		},
		VerificationResult: &siop.VerificationResult{
			IsValid: true,
			Subject: "did:key:alice",
		},
	}
}

func TestNewSigningContext(t *testing.T) {
	t.Run("empty issuer is rejected", func(t *testing.T) {
		_, err := NewSigningContext("", crypto.Ed25519)
		assert.Error(t, err)
	})

	t.Run("generates a fresh key", func(t *testing.T) {
		signing, err := NewSigningContext(testIssuer, crypto.Ed25519)
		require.NoError(t, err)
		assert.NotEmpty(t, signing.KID)
		assert.NotNil(t, signing.KeyAccess)
	})
}

func TestNewTokenServiceRequiresSigningContext(t *testing.T) {
	_, err := NewTokenService(config.TokenServiceConfig{TokenTTL: time.Minute}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signing context")
}

func TestIssueAndParseAccessToken(t *testing.T) {
	service := testTokenService(t, nil)

	accessToken, err := service.IssueAccessToken(testSession())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", accessToken.TokenType)
	assert.Equal(t, int64(300), accessToken.ExpiresIn)
	assert.Equal(t, oidc.ScopeOpenID, accessToken.Scope)

	subject, audience, err := service.ParseAccessToken(accessToken.Token)
	require.NoError(t, err)
	assert.Equal(t, "f8a9e2f1-0b5c-4e6d-9a3f-1c2d3e4f5a6b", subject)
	assert.Contains(t, audience, "test-client")
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	mockClock := clock.NewMock()
	service := testTokenService(t, mockClock)

	accessToken, err := service.IssueAccessToken(testSession())
	require.NoError(t, err)

	mockClock.Add(6 * time.Minute)
	_, _, err = service.ParseAccessToken(accessToken.Token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating access token")
}

func TestParseAccessTokenRejectsForeignSignature(t *testing.T) {
	service := testTokenService(t, nil)
	other := testTokenService(t, nil)

	accessToken, err := other.IssueAccessToken(testSession())
	require.NoError(t, err)

	_, _, err = service.ParseAccessToken(accessToken.Token)
	assert.Error(t, err)
}

func TestIssueIDToken(t *testing.T) {
	service := testTokenService(t, nil)

	t.Run("requires a verification result", func(t *testing.T) {
		sess := testSession()
		sess.VerificationResult = nil
		_, err := service.IssueIDToken(sess, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no verification result")
	})

	t.Run("carries subject, nonce and claims", func(t *testing.T) {
		idToken, err := service.IssueIDToken(testSession(), map[string]any{"name": "Alice Wonderland"})
		require.NoError(t, err)

		require.NoError(t, service.signing.KeyAccess.Verify(*idToken))
		_, parsed, err := util.ParseJWT(*idToken)
		require.NoError(t, err)
		assert.Equal(t, "did:key:alice", parsed.Subject())
		assert.Equal(t, testIssuer, parsed.Issuer())
		assert.Contains(t, parsed.Audience(), "test-client")

		nonce, ok := parsed.Get("nonce")
		require.True(t, ok)
		assert.Equal(t, "n-0S6_WzA2Mj", nonce)

		name, ok := parsed.Get("name")
		require.True(t, ok)
		assert.Equal(t, "Alice Wonderland", name)
	})

	t.Run("registered claims cannot be shadowed", func(t *testing.T) {
		idToken, err := service.IssueIDToken(testSession(), map[string]any{"sub": "did:key:mallory"})
		require.NoError(t, err)

		_, parsed, err := util.ParseJWT(*idToken)
		require.NoError(t, err)
		assert.Equal(t, "did:key:alice", parsed.Subject())
	})
}

func TestIssueRefreshToken(t *testing.T) {
	service := testTokenService(t, nil)
	first := service.IssueRefreshToken()
	second := service.IssueRefreshToken()
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
