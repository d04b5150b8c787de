// Package oidc holds the OpenID Connect request model shared by the bridge services.
package oidc

import (
	"strings"

	"github.com/TBD54566975/ssi-sdk/credential/exchange"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

type (
	ResponseType string
	ResponseMode string
)

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeIDToken ResponseType = "id_token"
	ResponseTypeToken   ResponseType = "token"

	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFragment ResponseMode = "fragment"

	// ClaimVPToken is the claim name under which a relying party may request the raw
	// verifiable presentation, or supply an explicit presentation definition.
	ClaimVPToken = "vp_token"

	ScopeOpenID = "openid"
)

// SupportedResponseTypes lists the response type values this provider can satisfy.
var SupportedResponseTypes = []ResponseType{ResponseTypeCode, ResponseTypeIDToken, ResponseTypeToken}

// AuthorizationRequest is the inbound OIDC authorization request. It is immutable once
// attached to a session.
type AuthorizationRequest struct {
	ResponseTypes []ResponseType `json:"responseTypes" validate:"required"`
	ClientID      string         `json:"clientId" validate:"required"`
	RedirectURI   string         `json:"redirectUri" validate:"required"`
	Scopes        []string       `json:"scopes,omitempty"`
	State         string         `json:"state,omitempty"`
	Nonce         string         `json:"nonce,omitempty"`
	// ResponseMode is the explicit response_mode parameter, if any.
	ResponseMode ResponseMode `json:"responseMode,omitempty"`
	// Claims is the parsed `claims` request parameter, if any.
	Claims *ClaimsRequest `json:"claims,omitempty"`
	// WalletID is the custom walletId parameter selecting which wallet answers the
	// presentation request.
	WalletID string `json:"walletId,omitempty"`
}

// ParseResponseTypes parses a space separated response_type parameter value.
func ParseResponseTypes(responseType string) ([]ResponseType, error) {
	fields := strings.Fields(responseType)
	if len(fields) == 0 {
		return nil, errors.New("response_type cannot be empty")
	}
	rts := make([]ResponseType, 0, len(fields))
	for _, f := range fields {
		rt := ResponseType(f)
		if !isSupportedResponseType(rt) {
			return nil, errors.Errorf("unsupported response_type: %s", f)
		}
		rts = append(rts, rt)
	}
	return rts, nil
}

func isSupportedResponseType(rt ResponseType) bool {
	for _, supported := range SupportedResponseTypes {
		if rt == supported {
			return true
		}
	}
	return false
}

func (ar AuthorizationRequest) HasResponseType(rt ResponseType) bool {
	for _, t := range ar.ResponseTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// ImpliedResponseMode returns the effective response mode: fragment whenever a token is
// returned directly on the redirect and no explicit non-fragment mode was requested.
func (ar AuthorizationRequest) ImpliedResponseMode() ResponseMode {
	if ar.ResponseMode != "" {
		return ar.ResponseMode
	}
	if ar.HasResponseType(ResponseTypeToken) || ar.HasResponseType(ResponseTypeIDToken) {
		return ResponseModeFragment
	}
	return ResponseModeQuery
}

// IsImplicitFlow reports whether tokens are returned directly on the redirect with no
// authorization code involved.
func (ar AuthorizationRequest) IsImplicitFlow() bool {
	return len(ar.ResponseTypes) > 0 && !ar.HasResponseType(ResponseTypeCode)
}

// ClaimsRequest is the OIDC `claims` request parameter.
type ClaimsRequest struct {
	IDToken  map[string]*ClaimEntry `json:"id_token,omitempty"`
	UserInfo map[string]*ClaimEntry `json:"userinfo,omitempty"`
	// VPToken carries an explicit presentation definition, bypassing scope expansion.
	VPToken *VPTokenClaim `json:"vp_token,omitempty"`
}

// ClaimEntry is an individual member of a claims request. A null entry is valid and
// means "requested with no constraints".
type ClaimEntry struct {
	Essential bool     `json:"essential,omitempty"`
	Value     string   `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
}

// VPTokenClaim is the vp_token member of a claims request.
type VPTokenClaim struct {
	PresentationDefinition *exchange.PresentationDefinition `json:"presentation_definition,omitempty"`
}

// ParseClaimsRequest parses the free-form JSON `claims` parameter.
func ParseClaimsRequest(raw string) (*ClaimsRequest, error) {
	if raw == "" {
		return nil, nil
	}
	var cr ClaimsRequest
	if err := json.Unmarshal([]byte(raw), &cr); err != nil {
		return nil, errors.Wrap(err, "parsing claims request")
	}
	return &cr, nil
}

// IDTokenClaimNames returns the claim names requested for the ID token, in no particular order.
func (cr *ClaimsRequest) IDTokenClaimNames() []string {
	if cr == nil {
		return nil
	}
	names := make([]string, 0, len(cr.IDToken))
	for name := range cr.IDToken {
		names = append(names, name)
	}
	return names
}

// RequestedClaimNames returns all claim names requested across the id_token and userinfo members.
func (cr *ClaimsRequest) RequestedClaimNames() []string {
	if cr == nil {
		return nil
	}
	seen := make(map[string]bool, len(cr.IDToken)+len(cr.UserInfo))
	names := make([]string, 0, len(cr.IDToken)+len(cr.UserInfo))
	for name := range cr.IDToken {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range cr.UserInfo {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// RequestsVPToken reports whether the relying party asked for the raw presentation as a claim.
func (cr *ClaimsRequest) RequestsVPToken() bool {
	return cr != nil && cr.VPToken != nil
}

// PresentationDefinition returns the explicit presentation definition embedded in the
// vp_token claim, if any.
func (cr *ClaimsRequest) PresentationDefinition() *exchange.PresentationDefinition {
	if cr == nil || cr.VPToken == nil {
		return nil
	}
	return cr.VPToken.PresentationDefinition
}
