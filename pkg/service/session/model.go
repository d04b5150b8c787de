package session

import (
	"github.com/TBD54566975/ssi-sdk/credential/exchange"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
)

// Session is an in-flight authorization exchange bridging the browser-initiated OIDC
// request and the wallet-initiated SIOP callback. Its ID doubles as the OAuth2
// authorization code. All fields except VerificationResult are immutable once stored.
type Session struct {
	ID                  string
	AuthRequest         oidc.AuthorizationRequest
	PresentationRequest exchange.PresentationDefinition
	Wallet              config.WalletConfig
	// VerificationResult is absent until the wallet callback arrives and transitions to
	// present at most once.
	VerificationResult *siop.VerificationResult
}

// IsVerified reports whether the session carries an accepted, valid verification result.
func (s Session) IsVerified() bool {
	return s.VerificationResult != nil && s.VerificationResult.IsValid
}
