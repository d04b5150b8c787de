// Package bridge orchestrates the cross-protocol state machine between an inbound OIDC
// authorization request and the SIOP verification callback that resolves it.
package bridge

import (
	"fmt"
	"net/url"
	"time"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/internal/keyaccess"
	"github.com/smartSenseSolutions/waltid-idpkit/internal/util"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/presentation"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/projection"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/token"
)

// SIOPCallbackPath is where the verification engine posts its result, relative to the
// provider's external URL.
const SIOPCallbackPath = "/api/siop/callback"

var (
	// ErrUnauthorizedClient rejects token exchanges from unknown clients or wrong secrets.
	ErrUnauthorizedClient = errors.New("client authorization failed")
	// ErrForbiddenRedirectURI rejects a token exchange whose redirect_uri does not
	// exactly match the one the session was started with.
	ErrForbiddenRedirectURI = errors.New("redirect_uri does not match the authorization request")
	// ErrSessionNotVerified rejects token or user-info access for a session whose wallet
	// round trip has not completed successfully.
	ErrSessionNotVerified = errors.New("session has no verified presentation")
)

// Service is the bridge controller. It composes the presentation builder, session store,
// projection engine and token issuer into the four operations the HTTP layer exposes.
type Service struct {
	config      config.BridgeServiceConfig
	externalURL string

	store   *session.Store
	builder *presentation.Builder
	engine  *projection.Engine
	tokens  *token.Service
}

func (s *Service) Type() framework.Type {
	return framework.Bridge
}

func (s *Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.store == nil {
		ae.AppendString("no session store configured")
	}
	if s.builder == nil {
		ae.AppendString("no presentation builder configured")
	}
	if s.engine == nil {
		ae.AppendString("no projection engine configured")
	}
	if s.tokens == nil {
		ae.AppendString("no token service configured")
	}
	if s.externalURL == "" {
		ae.AppendString("no external url configured")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("bridge service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewBridgeService(cfg config.BridgeServiceConfig, externalURL string, store *session.Store,
	builder *presentation.Builder, engine *projection.Engine, tokens *token.Service) (*Service, error) {
	service := Service{
		config:      cfg,
		externalURL: externalURL,
		store:       store,
		builder:     builder,
		engine:      engine,
		tokens:      tokens,
	}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	if len(cfg.Wallets) == 0 {
		logrus.Warn("no wallets configured; authorization requests will be rejected")
	}
	return &service, nil
}

// SessionTTL is how long a stored session stays redeemable.
func (s *Service) SessionTTL() time.Duration {
	if s.config.SessionTTL <= 0 {
		return session.DefaultTTL
	}
	return s.config.SessionTTL
}

// StartSessionResult is what the authorization endpoint needs to answer an inbound
// request: the stored session and the wallet URI to redirect the user agent to.
type StartSessionResult struct {
	Session           session.Session
	WalletRedirectURI string
}

// StartSession validates the authorization request, derives the presentation request,
// stores a fresh session and returns the wallet redirect embedding the presentation
// definition and the correlation state.
func (s *Service) StartSession(authRequest oidc.AuthorizationRequest) (*StartSessionResult, error) {
	logrus.Debugf("starting session for client: %s", util.SanitizeLog(authRequest.ClientID))

	if len(authRequest.ResponseTypes) == 0 {
		return nil, errors.New("authorization request has no response type")
	}
	if authRequest.RedirectURI == "" {
		return nil, errors.New("authorization request has no redirect uri")
	}

	wallet, err := s.resolveWallet(authRequest.WalletID)
	if err != nil {
		return nil, err
	}

	definition, err := s.builder.Build(authRequest)
	if err != nil {
		return nil, errors.Wrap(err, "building presentation request")
	}

	sess := session.Session{
		ID:                  uuid.NewString(),
		AuthRequest:         authRequest,
		PresentationRequest: *definition,
		Wallet:              *wallet,
	}

	encodedState, err := siop.State{IDPType: s.IDPType(), SessionID: sess.ID}.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "encoding state")
	}

	if err = s.store.Put(sess); err != nil {
		return nil, errors.Wrap(err, "storing session")
	}

	redirectURI, err := s.walletRedirectURI(*wallet, sess, encodedState)
	if err != nil {
		return nil, err
	}
	return &StartSessionResult{Session: sess, WalletRedirectURI: redirectURI}, nil
}

// resolveWallet picks the wallet answering the presentation request: the explicitly
// requested one, else the first configured. No wallets at all is a configuration error.
func (s *Service) resolveWallet(walletID string) (*config.WalletConfig, error) {
	if walletID != "" {
		for i := range s.config.Wallets {
			if s.config.Wallets[i].ID == walletID {
				return &s.config.Wallets[i], nil
			}
		}
		return nil, errors.Errorf("unknown wallet id: %s", walletID)
	}
	if len(s.config.Wallets) == 0 {
		return nil, errors.New("no wallets configured")
	}
	return &s.config.Wallets[0], nil
}

func (s *Service) walletRedirectURI(wallet config.WalletConfig, sess session.Session, encodedState string) (string, error) {
	base, err := url.Parse(wallet.URL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid wallet url: %s", wallet.URL)
	}
	definitionJSON, err := json.Marshal(sess.PresentationRequest)
	if err != nil {
		return "", errors.Wrap(err, "marshalling presentation definition")
	}
	nonce := sess.AuthRequest.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}
	params := url.Values{}
	params.Set("response_type", oidc.ClaimVPToken)
	params.Set("presentation_definition", string(definitionJSON))
	params.Set("redirect_uri", s.externalURL+SIOPCallbackPath)
	params.Set("state", encodedState)
	params.Set("nonce", nonce)

	target := base.JoinPath(wallet.PresentPath)
	target.RawQuery = params.Encode()
	return target.String(), nil
}

// ResumeSession rebuilds the wallet redirect for a previously pushed authorization
// request. The id may arrive wrapped in the request-URI prefix; the store normalizes it.
func (s *Service) ResumeSession(id string) (string, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return "", err
	}
	encodedState, err := siop.State{IDPType: s.IDPType(), SessionID: sess.ID}.Encode()
	if err != nil {
		return "", errors.Wrap(err, "encoding state")
	}
	return s.walletRedirectURI(sess.Wallet, *sess, encodedState)
}

// IDPType tags the bridge's sessions in the correlation state.
func (s *Service) IDPType() siop.IDPType {
	return siop.IDPTypeOIDC
}

// ContinueIDPSession routes a decoded callback into the bridge.
func (s *Service) ContinueIDPSession(sessionID string, result siop.VerificationResult) (string, error) {
	return s.HandleCallback(sessionID, result)
}

// HandleCallback resumes a session once the verification engine reports a result,
// returning the redirect the user agent should be sent to: a success redirect carrying
// one value per requested response type, or an OAuth2 error redirect naming the first
// applicable rejection reason. A rejected result is not attached to the session, so a
// later valid callback can still resolve it.
func (s *Service) HandleCallback(sessionID string, result siop.VerificationResult) (string, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return "", err
	}

	if description := verificationErrorDescription(result); description != "" || !result.IsValid {
		if description == "" {
			description = "Unknown error"
		}
		logrus.Debugf("rejected verification result for session %s: %s", util.SanitizeLog(sessionID), description)
		return errorRedirect(*sess, description), nil
	}

	updated, err := s.store.AttachVerificationResult(sessionID, result)
	if err != nil {
		return "", err
	}
	return s.successRedirect(*updated)
}

// TokenResponse is the body of a successful token exchange.
type TokenResponse struct {
	IDToken      keyaccess.JWT `json:"id_token"`
	AccessToken  keyaccess.JWT `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	RefreshToken string        `json:"refresh_token"`
	Scope        string        `json:"scope"`
}

// ExchangeCodeForTokens redeems an authorization code. The code is the session id; the
// redirect URI must exactly match the one the session was started with.
func (s *Service) ExchangeCodeForTokens(code, redirectURI string) (*TokenResponse, error) {
	sess, err := s.store.Get(code)
	if err != nil {
		return nil, err
	}
	if sess.AuthRequest.RedirectURI != redirectURI {
		logrus.Warnf("redirect uri mismatch on token exchange for session: %s", util.SanitizeLog(code))
		return nil, ErrForbiddenRedirectURI
	}
	if !sess.IsVerified() {
		return nil, ErrSessionNotVerified
	}

	idToken, err := s.issueIDTokenFor(*sess)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.IssueAccessToken(*sess)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		IDToken:      *idToken,
		AccessToken:  accessToken.Token,
		TokenType:    accessToken.TokenType,
		ExpiresIn:    accessToken.ExpiresIn,
		RefreshToken: s.tokens.IssueRefreshToken(),
		Scope:        accessToken.Scope,
	}, nil
}

// issueIDTokenFor projects the session's verified claims, filters them for the ID token
// and signs the result.
func (s *Service) issueIDTokenFor(sess session.Session) (*keyaccess.JWT, error) {
	if !sess.IsVerified() {
		return nil, ErrSessionNotVerified
	}
	claims, err := s.engine.ProjectClaims(sess.AuthRequest, *sess.VerificationResult)
	if err != nil {
		return nil, err
	}
	filtered := projection.FilterIDTokenClaims(sess.AuthRequest, claims)
	return s.tokens.IssueIDToken(sess, filtered)
}

// GetUserInfo resolves an access token to its session and returns the full unfiltered
// claim set, plus the proven subject under "sub". The token's audience must match the
// session's client.
func (s *Service) GetUserInfo(accessToken keyaccess.JWT) (map[string]any, error) {
	sessionID, audience, err := s.tokens.ParseAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !contains(audience, sess.AuthRequest.ClientID) {
		return nil, errors.New("access token audience does not match session client")
	}
	if !sess.IsVerified() {
		return nil, ErrSessionNotVerified
	}
	claims, err := s.engine.ProjectClaims(sess.AuthRequest, *sess.VerificationResult)
	if err != nil {
		return nil, err
	}
	claims["sub"] = sess.VerificationResult.Subject
	return claims, nil
}

// AuthorizeClient checks a client id and secret against the registered clients. Absence
// of a registered client is a failure, never an implicit allow.
func (s *Service) AuthorizeClient(clientID, clientSecret string) error {
	client := s.clientByID(clientID)
	if client == nil || client.ClientSecret != clientSecret {
		return ErrUnauthorizedClient
	}
	return nil
}

// VerifyRedirectURI reports whether a client may use the given redirect URI. A client
// with AllowAllRedirectURIs set may use any URI, even with no registered set.
func (s *Service) VerifyRedirectURI(clientID, redirectURI string) (bool, error) {
	client := s.clientByID(clientID)
	if client == nil {
		return false, ErrUnauthorizedClient
	}
	if client.AllowAllRedirectURIs {
		return true, nil
	}
	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) clientByID(clientID string) *config.ClientConfig {
	for i := range s.config.Clients {
		if s.config.Clients[i].ClientID == clientID {
			return &s.config.Clients[i]
		}
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
