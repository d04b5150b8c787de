package router

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/smartSenseSolutions/waltid-idpkit/internal/keyaccess"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/server/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/bridge"
	svcframework "github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
)

const (
	grantTypeAuthorizationCode = "authorization_code"

	bearerPrefix = "Bearer "
)

// OIDCRouter binds the bridge's operations to the OIDC endpoints.
type OIDCRouter struct {
	service *bridge.Service
}

func NewOIDCRouter(s svcframework.Service) (*OIDCRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	bridgeService, ok := s.(*bridge.Service)
	if !ok {
		return nil, fmt.Errorf("could not create OIDC router with service type: %s", s.Type())
	}
	return &OIDCRouter{service: bridgeService}, nil
}

// Authorize godoc
//
//	@Summary		Authorize
//	@Description	Starts an authorization exchange and redirects the user agent to the
//	@Description	wallet holding the requested credentials. A request_uri parameter
//	@Description	resumes a previously pushed authorization request instead.
//	@Tags			OIDC
//	@Success		302
//	@Failure		400	{string}	string	"Bad request"
//	@Router			/api/oidc/authorize [get]
func (r OIDCRouter) Authorize(c *gin.Context) {
	if requestURI := framework.GetQueryValue(c, "request_uri"); requestURI != nil {
		redirect, err := r.service.ResumeSession(*requestURI)
		if err != nil {
			framework.LoggingRespondErrWithMsg(c, err, "could not resume pushed authorization request", http.StatusBadRequest)
			return
		}
		c.Redirect(http.StatusFound, redirect)
		return
	}

	authRequest, err := parseAuthorizationRequest(c.Request.URL.Query())
	if err != nil {
		framework.RespondError(c, framework.NewRequestError(err, http.StatusBadRequest))
		return
	}
	result, err := r.service.StartSession(*authRequest)
	if err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "could not start authorization session", http.StatusBadRequest)
		return
	}
	c.Redirect(http.StatusFound, result.WalletRedirectURI)
}

type PushedAuthorizationResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int64  `json:"expires_in"`
}

// PushedAuthorizationRequest godoc
//
//	@Summary		Pushed Authorization Request
//	@Description	Stores an authorization request ahead of time and hands back a
//	@Description	request_uri redeemable at the authorize endpoint.
//	@Tags			OIDC
//	@Success		201	{object}	PushedAuthorizationResponse
//	@Failure		400	{string}	string	"Bad request"
//	@Router			/api/oidc/par [post]
func (r OIDCRouter) PushedAuthorizationRequest(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "could not parse form", http.StatusBadRequest)
		return
	}
	authRequest, err := parseAuthorizationRequest(c.Request.PostForm)
	if err != nil {
		framework.RespondError(c, framework.NewRequestError(err, http.StatusBadRequest))
		return
	}
	result, err := r.service.StartSession(*authRequest)
	if err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "could not start authorization session", http.StatusBadRequest)
		return
	}
	response := PushedAuthorizationResponse{
		RequestURI: session.RequestURIPrefix + result.Session.ID,
		ExpiresIn:  int64(r.service.SessionTTL().Seconds()),
	}
	framework.Respond(c, response, http.StatusCreated)
}

// Token godoc
//
//	@Summary		Token
//	@Description	Redeems an authorization code for an ID token, access token and
//	@Description	refresh token. Clients authenticate with HTTP basic auth or form
//	@Description	credentials.
//	@Tags			OIDC
//	@Success		200	{object}	bridge.TokenResponse
//	@Failure		400	{string}	string	"Bad request"
//	@Failure		401	{string}	string	"Unauthorized"
//	@Failure		403	{string}	string	"Forbidden"
//	@Router			/api/oidc/token [post]
func (r OIDCRouter) Token(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "could not parse form", http.StatusBadRequest)
		return
	}

	clientID, clientSecret, ok := c.Request.BasicAuth()
	if !ok {
		clientID = c.Request.PostForm.Get("client_id")
		clientSecret = c.Request.PostForm.Get("client_secret")
	}
	if err := r.service.AuthorizeClient(clientID, clientSecret); err != nil {
		framework.LoggingRespondError(c, err, http.StatusUnauthorized)
		return
	}

	if grantType := c.Request.PostForm.Get("grant_type"); grantType != grantTypeAuthorizationCode {
		framework.LoggingRespondErrMsg(c, fmt.Sprintf("unsupported grant_type: %s", grantType), http.StatusBadRequest)
		return
	}

	code := c.Request.PostForm.Get("code")
	redirectURI := c.Request.PostForm.Get("redirect_uri")
	response, err := r.service.ExchangeCodeForTokens(code, redirectURI)
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrForbiddenRedirectURI):
			framework.LoggingRespondError(c, err, http.StatusForbidden)
		case errors.Is(err, session.ErrNotFound), errors.Is(err, bridge.ErrSessionNotVerified):
			framework.LoggingRespondError(c, err, http.StatusBadRequest)
		default:
			framework.LoggingRespondErrWithMsg(c, err, "could not exchange code for tokens", http.StatusInternalServerError)
		}
		return
	}
	framework.Respond(c, response, http.StatusOK)
}

// UserInfo godoc
//
//	@Summary		User Info
//	@Description	Returns the full projected claim set for the session identified by
//	@Description	the bearer access token.
//	@Tags			OIDC
//	@Success		200	{object}	map[string]any
//	@Failure		401	{string}	string	"Unauthorized"
//	@Router			/api/oidc/userInfo [get]
func (r OIDCRouter) UserInfo(c *gin.Context) {
	authorization := c.GetHeader("Authorization")
	if !strings.HasPrefix(authorization, bearerPrefix) {
		framework.LoggingRespondErrMsg(c, "missing bearer token", http.StatusUnauthorized)
		return
	}
	accessToken := keyaccess.JWT(strings.TrimPrefix(authorization, bearerPrefix))

	claims, err := r.service.GetUserInfo(accessToken)
	if err != nil {
		framework.LoggingRespondError(c, err, http.StatusUnauthorized)
		return
	}
	framework.Respond(c, claims, http.StatusOK)
}

// parseAuthorizationRequest maps the OIDC request parameters onto the bridge's request
// model, whether they arrive on a query string or a pushed form body.
func parseAuthorizationRequest(values url.Values) (*oidc.AuthorizationRequest, error) {
	responseTypes, err := oidc.ParseResponseTypes(values.Get("response_type"))
	if err != nil {
		return nil, err
	}
	clientID := values.Get("client_id")
	if clientID == "" {
		return nil, errors.New("client_id is a required parameter")
	}
	redirectURI := values.Get("redirect_uri")
	if redirectURI == "" {
		return nil, errors.New("redirect_uri is a required parameter")
	}
	claims, err := oidc.ParseClaimsRequest(values.Get("claims"))
	if err != nil {
		return nil, err
	}
	return &oidc.AuthorizationRequest{
		ResponseTypes: responseTypes,
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		Scopes:        strings.Fields(values.Get("scope")),
		State:         values.Get("state"),
		Nonce:         values.Get("nonce"),
		ResponseMode:  oidc.ResponseMode(values.Get("response_mode")),
		Claims:        claims,
		WalletID:      values.Get("walletId"),
	}, nil
}
