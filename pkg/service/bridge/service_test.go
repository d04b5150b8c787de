package bridge

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/TBD54566975/ssi-sdk/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/claimmapping"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/presentation"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/projection"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/token"
)

const (
	testExternalURL = "https://idp.example.com"
	testRedirectURI = "https://rp.example.com/cb"
)

func testBridgeConfig() config.BridgeServiceConfig {
	return config.BridgeServiceConfig{
		BaseServiceConfig: &config.BaseServiceConfig{Name: "bridge"},
		SessionTTL:        time.Minute,
		Clients: []config.ClientConfig{
			{
				ClientID:     "test-client",
				ClientSecret: "test-secret",
				RedirectURIs: []string{testRedirectURI},
			},
			{
				ClientID:             "open-client",
				ClientSecret:         "open-secret",
				AllowAllRedirectURIs: true,
			},
		},
		Wallets: []config.WalletConfig{
			{ID: "walt.id", URL: "https://wallet.example.com", PresentPath: "api/siop/initiatePresentation"},
			{ID: "alt", URL: "https://alt-wallet.example.com", PresentPath: "present"},
		},
	}
}

func testBridge(t *testing.T) *Service {
	t.Helper()
	table, err := claimmapping.NewTable(config.ClaimMappingServiceConfig{
		BaseServiceConfig: &config.BaseServiceConfig{Name: "claim_mapping"},
		Mappings: []config.ClaimMappingRule{
			{Scope: "profile", Claim: "name", CredentialType: "PersonCredential", ValueExpression: "$.credentialSubject.name"},
		},
	})
	require.NoError(t, err)
	builder, err := presentation.NewBuilder(table)
	require.NoError(t, err)
	engine, err := projection.NewEngine(table, nil)
	require.NoError(t, err)

	signing, err := token.NewSigningContext(testExternalURL, crypto.Ed25519)
	require.NoError(t, err)
	tokens, err := token.NewTokenService(config.TokenServiceConfig{
		BaseServiceConfig: &config.BaseServiceConfig{Name: "token"},
		TokenTTL:          time.Minute,
	}, signing, nil)
	require.NoError(t, err)

	store, err := session.NewStore(time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	service, err := NewBridgeService(testBridgeConfig(), testExternalURL, store, builder, engine, tokens)
	require.NoError(t, err)
	return service
}

func codeAuthRequest() oidc.AuthorizationRequest {
	return oidc.AuthorizationRequest{
		ResponseTypes: []oidc.ResponseType{oidc.ResponseTypeCode},
		ClientID:      "test-client",
		RedirectURI:   testRedirectURI,
		Scopes:        []string{"openid", "profile"},
		State:         "rp-state",
		Nonce:         "rp-nonce",
	}
}

func validResult() siop.VerificationResult {
	return siop.VerificationResult{
		IsValid:      true,
		Subject:      "did:key:alice",
		Request:      "openid://?response_type=vp_token",
		IDTokenValid: true,
		Presentation: &siop.PresentationVerification{Valid: true},
		VerifiedCredentials: []siop.VerifiedCredential{
			{
				Types: []string{"VerifiableCredential", "PersonCredential"},
				Body: map[string]any{
					"type":              []any{"VerifiableCredential", "PersonCredential"},
					"credentialSubject": map[string]any{"name": "Alice"},
				},
			},
		},
		RawPresentation: "eyJhbGciOi...",
	}
}

func TestStartSession(t *testing.T) {
	service := testBridge(t)

	result, err := service.StartSession(codeAuthRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Session.ID)

	redirect, err := url.Parse(result.WalletRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "wallet.example.com", redirect.Host)
	assert.Equal(t, "/api/siop/initiatePresentation", redirect.Path)

	params := redirect.Query()
	assert.Equal(t, "vp_token", params.Get("response_type"))
	assert.Equal(t, testExternalURL+SIOPCallbackPath, params.Get("redirect_uri"))
	assert.Equal(t, "rp-nonce", params.Get("nonce"))
	assert.NotEmpty(t, params.Get("presentation_definition"))

	// the state parameter correlates back to the stored session
	state, err := siop.DecodeState(params.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, siop.IDPTypeOIDC, state.IDPType)
	assert.Equal(t, result.Session.ID, state.SessionID)
}

func TestStartSessionWalletSelection(t *testing.T) {
	service := testBridge(t)

	t.Run("explicit wallet id wins", func(t *testing.T) {
		ar := codeAuthRequest()
		ar.WalletID = "alt"
		result, err := service.StartSession(ar)
		require.NoError(t, err)
		assert.Contains(t, result.WalletRedirectURI, "alt-wallet.example.com")
	})

	t.Run("unknown wallet id is rejected", func(t *testing.T) {
		ar := codeAuthRequest()
		ar.WalletID = "nope"
		_, err := service.StartSession(ar)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown wallet id")
	})

	t.Run("defaults to the first configured wallet", func(t *testing.T) {
		result, err := service.StartSession(codeAuthRequest())
		require.NoError(t, err)
		assert.Contains(t, result.WalletRedirectURI, "wallet.example.com")
	})
}

func TestStartSessionRejectsMissingResponseType(t *testing.T) {
	service := testBridge(t)
	ar := codeAuthRequest()
	ar.ResponseTypes = nil
	_, err := service.StartSession(ar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response type")
}

func TestHandleCallbackCodeFlow(t *testing.T) {
	service := testBridge(t)

	started, err := service.StartSession(codeAuthRequest())
	require.NoError(t, err)

	redirect, err := service.HandleCallback(started.Session.ID, validResult())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s?code=%s&state=rp-state", testRedirectURI, started.Session.ID), redirect)
}

func TestHandleCallbackImplicitFlow(t *testing.T) {
	service := testBridge(t)

	ar := codeAuthRequest()
	ar.ResponseTypes = []oidc.ResponseType{oidc.ResponseTypeIDToken, oidc.ResponseTypeToken}
	started, err := service.StartSession(ar)
	require.NoError(t, err)

	redirect, err := service.HandleCallback(started.Session.ID, validResult())
	require.NoError(t, err)

	// token-bearing redirects use the fragment form
	require.True(t, strings.HasPrefix(redirect, testRedirectURI+"#"), redirect)
	fragment := strings.TrimPrefix(redirect, testRedirectURI+"#")
	parts := strings.Split(fragment, "&")
	require.Len(t, parts, 3)
	assert.True(t, strings.HasPrefix(parts[0], "id_token="))
	assert.True(t, strings.HasPrefix(parts[1], "access_token="))
	assert.Equal(t, "state=rp-state", parts[2])
}

func TestHandleCallbackUnknownSession(t *testing.T) {
	service := testBridge(t)
	_, err := service.HandleCallback("never-created", validResult())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestHandleCallbackRejectionPrecedence(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*siop.VerificationResult)
		description string
	}{
		{
			name:        "missing subject",
			mutate:      func(r *siop.VerificationResult) { r.Subject = "" },
			description: "Subject not defined",
		},
		{
			name:        "missing request",
			mutate:      func(r *siop.VerificationResult) { r.Request = "" },
			description: "No SIOP request defined",
		},
		{
			name:        "invalid id token",
			mutate:      func(r *siop.VerificationResult) { r.IDTokenValid = false },
			description: "Invalid id_token",
		},
		{
			name:        "presentation never verified",
			mutate:      func(r *siop.VerificationResult) { r.Presentation = nil },
			description: "Verifiable presentation not verified",
		},
		{
			name: "presentation invalid",
			mutate: func(r *siop.VerificationResult) {
				r.Presentation = &siop.PresentationVerification{Valid: false, Reason: "expired credential"}
			},
			description: "Verifiable presentation invalid: expired credential",
		},
		{
			name:        "engine verdict overrides nothing specific",
			mutate:      func(r *siop.VerificationResult) { r.IsValid = false },
			description: "Unknown error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := testBridge(t)
			started, err := service.StartSession(codeAuthRequest())
			require.NoError(t, err)

			result := validResult()
			tt.mutate(&result)

			redirect, err := service.HandleCallback(started.Session.ID, result)
			require.NoError(t, err)

			parsed, err := url.Parse(redirect)
			require.NoError(t, err)
			params := parsed.Query()
			assert.Equal(t, "invalid_request", params.Get("error"))
			assert.Equal(t, tt.description, params.Get("error_description"))
			assert.Equal(t, "rp-state", params.Get("state"))
		})
	}
}

func TestHandleCallbackRejectionDoesNotConsumeSession(t *testing.T) {
	service := testBridge(t)
	started, err := service.StartSession(codeAuthRequest())
	require.NoError(t, err)

	bad := validResult()
	bad.Subject = ""
	_, err = service.HandleCallback(started.Session.ID, bad)
	require.NoError(t, err)

	// a later valid callback still resolves the session
	redirect, err := service.HandleCallback(started.Session.ID, validResult())
	require.NoError(t, err)
	assert.Contains(t, redirect, "code="+started.Session.ID)
}

func TestExchangeCodeForTokens(t *testing.T) {
	service := testBridge(t)
	started, err := service.StartSession(codeAuthRequest())
	require.NoError(t, err)

	t.Run("unverified session is rejected", func(t *testing.T) {
		_, err := service.ExchangeCodeForTokens(started.Session.ID, testRedirectURI)
		assert.ErrorIs(t, err, ErrSessionNotVerified)
	})

	_, err = service.HandleCallback(started.Session.ID, validResult())
	require.NoError(t, err)

	t.Run("redirect uri must match exactly", func(t *testing.T) {
		_, err := service.ExchangeCodeForTokens(started.Session.ID, testRedirectURI+"/")
		assert.ErrorIs(t, err, ErrForbiddenRedirectURI)
	})

	t.Run("unknown code yields not found", func(t *testing.T) {
		_, err := service.ExchangeCodeForTokens("bogus", testRedirectURI)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("success issues all three tokens", func(t *testing.T) {
		response, err := service.ExchangeCodeForTokens(started.Session.ID, testRedirectURI)
		require.NoError(t, err)
		assert.NotEmpty(t, response.IDToken)
		assert.NotEmpty(t, response.AccessToken)
		assert.NotEmpty(t, response.RefreshToken)
		assert.Equal(t, "Bearer", response.TokenType)
		assert.Equal(t, oidc.ScopeOpenID, response.Scope)
	})
}

func TestGetUserInfo(t *testing.T) {
	service := testBridge(t)
	started, err := service.StartSession(codeAuthRequest())
	require.NoError(t, err)
	_, err = service.HandleCallback(started.Session.ID, validResult())
	require.NoError(t, err)

	response, err := service.ExchangeCodeForTokens(started.Session.ID, testRedirectURI)
	require.NoError(t, err)

	claims, err := service.GetUserInfo(response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "did:key:alice", claims["sub"])
	assert.Equal(t, "Alice", claims["name"])
}

func TestGetUserInfoRejectsGarbageToken(t *testing.T) {
	service := testBridge(t)
	_, err := service.GetUserInfo("not-a-jwt")
	assert.Error(t, err)
}

func TestAuthorizeClient(t *testing.T) {
	service := testBridge(t)
	assert.NoError(t, service.AuthorizeClient("test-client", "test-secret"))
	assert.ErrorIs(t, service.AuthorizeClient("test-client", "wrong"), ErrUnauthorizedClient)
	assert.ErrorIs(t, service.AuthorizeClient("unknown", "test-secret"), ErrUnauthorizedClient)
}

func TestVerifyRedirectURI(t *testing.T) {
	service := testBridge(t)

	ok, err := service.VerifyRedirectURI("test-client", testRedirectURI)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.VerifyRedirectURI("test-client", "https://evil.example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	// allow-all clients accept any uri even with no registered set
	ok, err = service.VerifyRedirectURI("open-client", "https://anywhere.example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = service.VerifyRedirectURI("unknown", testRedirectURI)
	assert.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestResumeSession(t *testing.T) {
	service := testBridge(t)
	started, err := service.StartSession(codeAuthRequest())
	require.NoError(t, err)

	// pushed authorization requests hand back the session id wrapped in the request-URI prefix
	redirect, err := service.ResumeSession(session.RequestURIPrefix + started.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, started.WalletRedirectURI, redirect)

	_, err = service.ResumeSession(session.RequestURIPrefix + "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGenerateAuthSuccessResponseShape(t *testing.T) {
	service := testBridge(t)

	ar := codeAuthRequest()
	ar.ResponseTypes = []oidc.ResponseType{oidc.ResponseTypeCode, oidc.ResponseTypeIDToken, oidc.ResponseTypeToken}
	started, err := service.StartSession(ar)
	require.NoError(t, err)

	result := validResult()
	sess, err := service.store.AttachVerificationResult(started.Session.ID, result)
	require.NoError(t, err)

	response, err := service.generateAuthSuccessResponse(*sess)
	require.NoError(t, err)

	parts := strings.Split(response, "&")
	require.Len(t, parts, 4)
	assert.Equal(t, "code="+started.Session.ID, parts[0])
	assert.True(t, strings.HasPrefix(parts[1], "id_token="))
	assert.True(t, strings.HasPrefix(parts[2], "access_token="))
	assert.Equal(t, "state=rp-state", parts[3])
}
