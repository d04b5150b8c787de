package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfigPath = "config/config.toml"
	ConfigFileName    = "config.toml"
	ServiceName       = "idpkit"
	ConfigExtension   = ".toml"

	DefaultExternalURL = "http://localhost:8080"

	EnvironmentDev  Environment = "dev"
	EnvironmentTest Environment = "test"
	EnvironmentProd Environment = "prod"

	ConfigPath EnvironmentVariable = "CONFIG_PATH"
)

type (
	Environment         string
	EnvironmentVariable string
)

func (e EnvironmentVariable) String() string {
	return string(e)
}

type IDPKitConfig struct {
	conf.Version
	Server   ServerConfig   `toml:"server"`
	Services ServicesConfig `toml:"services"`
}

// ServerConfig represents configurable properties for the HTTP server
type ServerConfig struct {
	Environment        Environment   `toml:"env" conf:"default:dev"`
	EnableAllowAllCORS bool          `toml:"enable_allow_all_cors" conf:"default:false"`

	APIHost         string        `toml:"api_host" conf:"default:0.0.0.0:3000"`
	JagerHost       string        `toml:"jager_host" conf:"http://jaeger:14268/api/traces"`
	JagerEnabled    bool          `toml:"jager_enabled" conf:"default:false"`
	ReadTimeout     time.Duration `toml:"read_timeout" conf:"default:5s"`
	WriteTimeout    time.Duration `toml:"write_timeout" conf:"default:5s"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" conf:"default:5s"`
	LogLocation     string        `toml:"log_location" conf:"default:log"`
	LogLevel        string        `toml:"log_level" conf:"default:debug"`
}

// ServicesConfig represents configurable properties for the components of the IDP Kit
type ServicesConfig struct {
	// ExternalURL is the base URL under which this provider is reachable by relying
	// parties and wallets. It is used as the token issuer identifier.
	ExternalURL string `toml:"external_url"`

	// Embed all service-specific configs here. The order matters: from which should be instantiated first, to last
	TokenConfig        TokenServiceConfig        `toml:"token,omitempty"`
	ClaimMappingConfig ClaimMappingServiceConfig `toml:"claim_mapping,omitempty"`
	BridgeConfig       BridgeServiceConfig       `toml:"bridge,omitempty"`
}

// BaseServiceConfig represents configurable properties for a specific component of the IDP Kit
// Can be wrapped and extended for any specific service config
type BaseServiceConfig struct {
	Name            string `toml:"name"`
	ServiceEndpoint string `toml:"service_endpoint"`
}

// TokenServiceConfig configures the token issuer. The signing key is resolved once at
// startup; failing to obtain one is fatal.
type TokenServiceConfig struct {
	*BaseServiceConfig
	// Key type used for the provider signing key, e.g. Ed25519
	KeyType string `toml:"key_type" conf:"default:Ed25519"`
	// TTL for access tokens; matches the session TTL
	TokenTTL time.Duration `toml:"token_ttl" conf:"default:5m"`
}

func (t *TokenServiceConfig) IsEmpty() bool {
	if t == nil {
		return true
	}
	return reflect.DeepEqual(t, &TokenServiceConfig{})
}

// ClaimMappingServiceConfig carries the declarative scope/claim to credential field rules.
type ClaimMappingServiceConfig struct {
	*BaseServiceConfig
	Mappings []ClaimMappingRule `toml:"mappings"`
}

func (c *ClaimMappingServiceConfig) IsEmpty() bool {
	if c == nil {
		return true
	}
	return reflect.DeepEqual(c, &ClaimMappingServiceConfig{})
}

// ClaimMappingRule maps an OIDC scope and/or claim name to a credential type and a
// JSONPath value expression evaluated against the credential body. The expression may be
// a space-joined list of paths whose results are concatenated with a single space.
type ClaimMappingRule struct {
	Scope           string `toml:"scope,omitempty"`
	Claim           string `toml:"claim"`
	CredentialType  string `toml:"credential_type"`
	ValueExpression string `toml:"value_expression"`
}

// BridgeServiceConfig configures the OIDC-to-SIOP bridge: registered relying parties,
// wallets able to satisfy presentation requests, and the in-flight session TTL.
type BridgeServiceConfig struct {
	*BaseServiceConfig
	SessionTTL time.Duration  `toml:"session_ttl" conf:"default:5m"`
	Clients    []ClientConfig `toml:"clients"`
	Wallets    []WalletConfig `toml:"wallets"`
}

func (b *BridgeServiceConfig) IsEmpty() bool {
	if b == nil {
		return true
	}
	return reflect.DeepEqual(b, &BridgeServiceConfig{})
}

// ClientConfig is a registered relying party.
type ClientConfig struct {
	ClientID             string   `toml:"client_id"`
	ClientSecret         string   `toml:"client_secret"`
	RedirectURIs         []string `toml:"redirect_uris"`
	AllowAllRedirectURIs bool     `toml:"allow_all_redirect_uris"`
}

// WalletConfig describes a wallet able to answer presentation requests.
type WalletConfig struct {
	ID          string `toml:"id"`
	Description string `toml:"description"`
	URL         string `toml:"url"`
	PresentPath string `toml:"present_path"`
}

// LoadConfig attempts to load a TOML config file from the given path, and coerce it into our object model.
// Before loading, defaults are applied on certain properties, which are overwritten if specified in the TOML file.
func LoadConfig(path string) (*IDPKitConfig, error) {
	// no path, load default config
	defaultConfig := false
	if path == "" {
		logrus.Info("no config path provided, loading default config...")
		defaultConfig = true
	} else if filepath.Ext(path) != ConfigExtension {
		return nil, fmt.Errorf("path<%s> did not match the expected TOML format", path)
	}

	// create the config object
	var config IDPKitConfig

	// parse and apply defaults
	if err := conf.Parse(os.Args[1:], ServiceName, &config); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(ServiceName, &config)
			if err != nil {
				return nil, errors.Wrap(err, "parsing config")
			}
			fmt.Println(usage)

			return nil, nil

		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(ServiceName, &config)
			if err != nil {
				return nil, errors.Wrap(err, "generating config version")
			}

			fmt.Println(version)
			return nil, nil
		}

		return nil, errors.Wrap(err, "parsing config")
	}

	if defaultConfig {
		config.Services = defaultServicesConfig()
	} else {
		// load from TOML file
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, errors.Wrapf(err, "could not load config: %s", path)
		}
	}

	// apply defaults if not included in the toml file
	if config.Services.ExternalURL == "" {
		config.Services.ExternalURL = DefaultExternalURL
	}

	return &config, nil
}

func defaultServicesConfig() ServicesConfig {
	return ServicesConfig{
		ExternalURL: DefaultExternalURL,
		TokenConfig: TokenServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "token"},
			KeyType:           "Ed25519",
			TokenTTL:          5 * time.Minute,
		},
		ClaimMappingConfig: ClaimMappingServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "claim_mapping"},
			Mappings: []ClaimMappingRule{
				{
					Scope:           "profile",
					Claim:           "name",
					CredentialType:  "VerifiableId",
					ValueExpression: "$.credentialSubject.firstName $.credentialSubject.familyName",
				},
				{
					Scope:           "profile",
					Claim:           "given_name",
					CredentialType:  "VerifiableId",
					ValueExpression: "$.credentialSubject.firstName",
				},
				{
					Scope:           "profile",
					Claim:           "family_name",
					CredentialType:  "VerifiableId",
					ValueExpression: "$.credentialSubject.familyName",
				},
				{
					Scope:           "profile",
					Claim:           "birthdate",
					CredentialType:  "VerifiableId",
					ValueExpression: "$.credentialSubject.dateOfBirth",
				},
			},
		},
		BridgeConfig: BridgeServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "bridge"},
			SessionTTL:        5 * time.Minute,
			Wallets: []WalletConfig{
				{
					ID:          "walt.id",
					Description: "walt.id web wallet",
					URL:         "https://wallet.walt.id",
					PresentPath: "api/siop/initiatePresentation/",
				},
			},
		},
	}
}
