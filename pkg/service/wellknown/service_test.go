package wellknown

import (
	"testing"

	"github.com/TBD54566975/ssi-sdk/crypto"
	"github.com/TBD54566975/ssi-sdk/crypto/jwx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/claimmapping"
)

func testPublicJWK(t *testing.T) jwx.PublicKeyJWK {
	t.Helper()
	pubKey, _, err := crypto.GenerateKeyByKeyType(crypto.Ed25519)
	require.NoError(t, err)
	publicJWK, err := jwx.PublicKeyToPublicKeyJWK("test-kid", pubKey)
	require.NoError(t, err)
	return *publicJWK
}

func TestProviderMetadata(t *testing.T) {
	table, err := claimmapping.NewTable(config.ClaimMappingServiceConfig{
		BaseServiceConfig: &config.BaseServiceConfig{Name: "claim_mapping"},
		Mappings: []config.ClaimMappingRule{
			{Scope: "profile", Claim: "name", CredentialType: "PersonCredential", ValueExpression: "$.credentialSubject.name"},
			{Scope: "email", Claim: "email", CredentialType: "EmailCredential", ValueExpression: "$.credentialSubject.email"},
		},
	})
	require.NoError(t, err)

	service, err := NewWellKnownService("https://idp.example.com", table, []config.WalletConfig{
		{ID: "walt.id", Description: "walt.id web wallet", URL: "https://wallet.walt.id"},
	}, testPublicJWK(t))
	require.NoError(t, err)

	metadata := service.ProviderMetadata()
	assert.Equal(t, "https://idp.example.com", metadata.Issuer)
	assert.Equal(t, "https://idp.example.com/api/oidc/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, "https://idp.example.com/api/oidc/token", metadata.TokenEndpoint)
	assert.Equal(t, "https://idp.example.com/api/oidc/jwkSet", metadata.JWKSURI)

	assert.Contains(t, metadata.ScopesSupported, "openid")
	assert.Contains(t, metadata.ScopesSupported, "profile")
	assert.Contains(t, metadata.ScopesSupported, "email")
	assert.Contains(t, metadata.ClaimsSupported, "name")
	assert.Contains(t, metadata.ClaimsSupported, "vp_token")
	assert.Contains(t, metadata.ResponseTypesSupported, "code id_token token")

	require.Len(t, metadata.WalletsSupported, 1)
	assert.Equal(t, "walt.id", metadata.WalletsSupported[0].ID)

	keys, ok := service.KeySet()["keys"].([]any)
	require.True(t, ok)
	assert.Len(t, keys, 1)
}

func TestNewWellKnownServiceRequiresExternalURL(t *testing.T) {
	table, err := claimmapping.NewTable(config.ClaimMappingServiceConfig{
		BaseServiceConfig: &config.BaseServiceConfig{Name: "claim_mapping"},
	})
	require.NoError(t, err)

	_, err = NewWellKnownService("", table, nil, testPublicJWK(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no external url")
}
