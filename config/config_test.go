package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultConfig(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, DefaultExternalURL, config.Services.ExternalURL)
	assert.Equal(t, 5*time.Minute, config.Services.BridgeConfig.SessionTTL)
	assert.Equal(t, "Ed25519", config.Services.TokenConfig.KeyType)
	assert.NotEmpty(t, config.Services.BridgeConfig.Wallets)
	assert.NotEmpty(t, config.Services.ClaimMappingConfig.Mappings)
}

func TestLoadConfigRejectsNonTOML(t *testing.T) {
	_, err := LoadConfig("config.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "TOML")
}

func TestLoadConfigFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), ConfigFileName)
	contents := `
[services]
external_url = "https://idp.example.com"

[services.token]
name = "token"
key_type = "Ed25519"

[services.bridge]
name = "bridge"

[[services.bridge.clients]]
client_id = "rp1"
client_secret = "secret"
redirect_uris = ["https://rp.example.com/callback"]

[[services.bridge.wallets]]
id = "test-wallet"
description = "test wallet"
url = "https://wallet.example.com"
present_path = "present"

[services.claim_mapping]
name = "claim_mapping"

[[services.claim_mapping.mappings]]
scope = "profile"
claim = "name"
credential_type = "PersonCredential"
value_expression = "$.credentialSubject.name"
`
	require.NoError(t, os.WriteFile(file, []byte(contents), 0o644))

	config, err := LoadConfig(file)
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "https://idp.example.com", config.Services.ExternalURL)
	require.Len(t, config.Services.BridgeConfig.Clients, 1)
	assert.Equal(t, "rp1", config.Services.BridgeConfig.Clients[0].ClientID)
	require.Len(t, config.Services.BridgeConfig.Wallets, 1)
	assert.Equal(t, "test-wallet", config.Services.BridgeConfig.Wallets[0].ID)
	require.Len(t, config.Services.ClaimMappingConfig.Mappings, 1)
	assert.Equal(t, "PersonCredential", config.Services.ClaimMappingConfig.Mappings[0].CredentialType)
}
