// Package wellknown serves the provider's discovery metadata.
package wellknown

import (
	"fmt"

	"github.com/TBD54566975/ssi-sdk/crypto/jwx"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/pkg/errors"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/claimmapping"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
)

// Endpoint paths relative to the provider's external URL.
const (
	AuthorizePath = "/api/oidc/authorize"
	PARPath       = "/api/oidc/par"
	TokenPath     = "/api/oidc/token"
	UserInfoPath  = "/api/oidc/userInfo"
	JWKSPath      = "/api/oidc/jwkSet"
)

// ProviderMetadata is the OIDC discovery document.
type ProviderMetadata struct {
	Issuer                             string            `json:"issuer"`
	AuthorizationEndpoint              string            `json:"authorization_endpoint"`
	PushedAuthorizationRequestEndpoint string            `json:"pushed_authorization_request_endpoint"`
	TokenEndpoint                      string            `json:"token_endpoint"`
	UserInfoEndpoint                   string            `json:"userinfo_endpoint"`
	JWKSURI                            string            `json:"jwks_uri"`
	ResponseTypesSupported             []string          `json:"response_types_supported"`
	ResponseModesSupported             []string          `json:"response_modes_supported"`
	GrantTypesSupported                []string          `json:"grant_types_supported"`
	SubjectTypesSupported              []string          `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported   []string          `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                    []string          `json:"scopes_supported"`
	ClaimsSupported                    []string          `json:"claims_supported"`
	WalletsSupported                   []WalletMetadata  `json:"wallets_supported"`
}

// WalletMetadata advertises a wallet able to answer this provider's presentation requests.
type WalletMetadata struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Service renders the discovery document from the claim mapping table and the wallet
// registry. Everything it serves is immutable after startup.
type Service struct {
	externalURL string
	table       *claimmapping.Table
	wallets     []config.WalletConfig
	publicJWK   jwx.PublicKeyJWK
}

func (s *Service) Type() framework.Type {
	return framework.WellKnown
}

func (s *Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.externalURL == "" {
		ae.AppendString("no external url configured")
	}
	if s.table == nil {
		ae.AppendString("no claim mapping table configured")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("well-known service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewWellKnownService(externalURL string, table *claimmapping.Table, wallets []config.WalletConfig,
	publicJWK jwx.PublicKeyJWK) (*Service, error) {
	service := Service{externalURL: externalURL, table: table, wallets: wallets, publicJWK: publicJWK}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// KeySet returns the provider's public keys in JWKS form.
func (s *Service) KeySet() map[string]any {
	return map[string]any{
		"keys": []any{s.publicJWK},
	}
}

// ProviderMetadata assembles the discovery document.
func (s *Service) ProviderMetadata() ProviderMetadata {
	scopes := append([]string{oidc.ScopeOpenID}, s.table.ScopesSupported()...)
	claims := append(s.table.ClaimsSupported(), oidc.ClaimVPToken)

	wallets := make([]WalletMetadata, 0, len(s.wallets))
	for _, w := range s.wallets {
		wallets = append(wallets, WalletMetadata{ID: w.ID, Description: w.Description})
	}

	return ProviderMetadata{
		Issuer:                             s.externalURL,
		AuthorizationEndpoint:              s.externalURL + AuthorizePath,
		PushedAuthorizationRequestEndpoint: s.externalURL + PARPath,
		TokenEndpoint:                      s.externalURL + TokenPath,
		UserInfoEndpoint:                   s.externalURL + UserInfoPath,
		JWKSURI:                            s.externalURL + JWKSPath,
		ResponseTypesSupported: []string{
			"code",
			"id_token",
			"token",
			"id_token token",
			"code id_token",
			"code token",
			"code id_token token",
		},
		ResponseModesSupported:           []string{"query", "fragment"},
		GrantTypesSupported:              []string{"authorization_code", "implicit"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"EdDSA"},
		ScopesSupported:                  scopes,
		ClaimsSupported:                  claims,
		WalletsSupported:                 wallets,
	}
}
