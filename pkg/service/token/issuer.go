// Package token issues and parses the signed tokens bound to bridge sessions.
package token

import (
	"fmt"
	"time"

	"github.com/TBD54566975/ssi-sdk/crypto"
	"github.com/TBD54566975/ssi-sdk/crypto/jwx"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/internal/keyaccess"
	"github.com/smartSenseSolutions/waltid-idpkit/internal/util"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
)

// SigningContext holds the provider's signing key, resolved exactly once at startup and
// immutable afterwards. There is no lazy initialization: a provider that cannot obtain a
// key must not start.
type SigningContext struct {
	Issuer    string
	KID       string
	KeyAccess *keyaccess.JWKKeyAccess
	PublicJWK jwx.PublicKeyJWK
}

// NewSigningContext generates a fresh signing key of the configured type.
func NewSigningContext(issuer string, keyType crypto.KeyType) (*SigningContext, error) {
	if issuer == "" {
		return nil, errors.New("issuer cannot be empty")
	}
	pubKey, privKey, err := crypto.GenerateKeyByKeyType(keyType)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "could not generate signing key of type %s", keyType)
	}
	kid := uuid.NewString()
	keyAccess, err := keyaccess.NewJWKKeyAccess(issuer, kid, privKey)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "could not create key access for kid %s", kid)
	}
	publicJWK, err := jwx.PublicKeyToPublicKeyJWK(kid, pubKey)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not convert signing key to JWK")
	}
	logrus.Infof("resolved signing key with kid: %s", kid)
	return &SigningContext{
		Issuer:    issuer,
		KID:       kid,
		KeyAccess: keyAccess,
		PublicJWK: *publicJWK,
	}, nil
}

// AccessToken is a bearer token identifying a session on subsequent calls. It carries no
// user claims.
type AccessToken struct {
	Token     keyaccess.JWT `json:"access_token"`
	TokenType string        `json:"token_type"`
	ExpiresIn int64         `json:"expires_in"`
	Scope     string        `json:"scope"`
}

// Service signs access and ID tokens bound to a session.
type Service struct {
	config  config.TokenServiceConfig
	signing *SigningContext
	clock   clock.Clock
}

func (s *Service) Type() framework.Type {
	return framework.Token
}

func (s *Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.signing == nil || s.signing.KeyAccess == nil {
		ae.AppendString("no signing context configured")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("token service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewTokenService(cfg config.TokenServiceConfig, signing *SigningContext, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = session.DefaultTTL
	}
	service := Service{config: cfg, signing: signing, clock: clk}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// TTL returns the access token lifetime, which matches the session TTL.
func (s *Service) TTL() time.Duration {
	return s.config.TokenTTL
}

// IssueAccessToken signs a token whose subject is the session id and whose audience is
// the requesting client.
func (s *Service) IssueAccessToken(sess session.Session) (*AccessToken, error) {
	now := s.clock.Now()
	payload := map[string]any{
		"iss":   s.signing.Issuer,
		"sub":   sess.ID,
		"aud":   sess.AuthRequest.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(s.config.TokenTTL).Unix(),
		"scope": oidc.ScopeOpenID,
	}
	signed, err := s.signing.KeyAccess.Sign(payload)
	if err != nil {
		return nil, errors.Wrap(err, "signing access token")
	}
	return &AccessToken{
		Token:     *signed,
		TokenType: "Bearer",
		ExpiresIn: int64(s.config.TokenTTL.Seconds()),
		Scope:     oidc.ScopeOpenID,
	}, nil
}

// IssueIDToken signs an identity token whose subject is the presentation's proven
// subject. The claim payload must already be filtered for the target token.
func (s *Service) IssueIDToken(sess session.Session, claims map[string]any) (*keyaccess.JWT, error) {
	if sess.VerificationResult == nil {
		return nil, errors.New("session has no verification result")
	}
	now := s.clock.Now()
	payload := make(map[string]any, len(claims)+5)
	for name, value := range claims {
		payload[name] = value
	}
	payload["iss"] = s.signing.Issuer
	payload["sub"] = sess.VerificationResult.Subject
	payload["aud"] = sess.AuthRequest.ClientID
	payload["iat"] = now.Unix()
	payload["exp"] = now.Add(s.config.TokenTTL).Unix()
	if sess.AuthRequest.Nonce != "" {
		payload["nonce"] = sess.AuthRequest.Nonce
	}
	signed, err := s.signing.KeyAccess.Sign(payload)
	if err != nil {
		return nil, errors.Wrap(err, "signing id token")
	}
	return signed, nil
}

// IssueRefreshToken mints an opaque refresh token.
func (s *Service) IssueRefreshToken() string {
	return ksuid.New().String()
}

// ParseAccessToken verifies an access token's signature and validity window and returns
// its subject (the session id) and audience.
func (s *Service) ParseAccessToken(token keyaccess.JWT) (string, []string, error) {
	if err := s.signing.KeyAccess.Verify(token); err != nil {
		return "", nil, errors.Wrap(err, "verifying access token signature")
	}
	_, parsed, err := util.ParseJWT(token)
	if err != nil {
		return "", nil, errors.Wrap(err, "parsing access token")
	}
	if err = jwt.Validate(parsed, jwt.WithClock(jwt.ClockFunc(s.clock.Now))); err != nil {
		return "", nil, errors.Wrap(err, "validating access token")
	}
	return parsed.Subject(), parsed.Audience(), nil
}
