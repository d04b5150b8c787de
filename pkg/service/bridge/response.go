package bridge

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
)

// verificationErrorDescription classifies a verification result into a single
// human-readable reason. The precedence is fixed: only the first applicable reason is
// reported even when several hold. An empty return means the result checks out.
func verificationErrorDescription(result siop.VerificationResult) string {
	switch {
	case result.Subject == "":
		return "Subject not defined"
	case result.Request == "":
		return "No SIOP request defined"
	case !result.IDTokenValid:
		return "Invalid id_token"
	case result.Presentation == nil:
		return "Verifiable presentation not verified"
	case !result.Presentation.Valid:
		return fmt.Sprintf("Verifiable presentation invalid: %s", result.Presentation.Reason)
	case !result.IsValid:
		return "Unknown error"
	}
	return ""
}

// responseSeparator picks the character joining the redirect URI and the response
// parameters: a fragment for token-bearing redirects, a query string otherwise.
func responseSeparator(mode oidc.ResponseMode) string {
	if mode == oidc.ResponseModeFragment {
		return "#"
	}
	return "?"
}

// generateAuthSuccessResponse renders the parameter string of a successful authorization
// redirect: exactly one value per requested response type, joined with "&" and suffixed
// with the relying party's original state.
func (s *Service) generateAuthSuccessResponse(sess session.Session) (string, error) {
	parts := make([]string, 0, len(sess.AuthRequest.ResponseTypes))
	for _, responseType := range sess.AuthRequest.ResponseTypes {
		switch responseType {
		case oidc.ResponseTypeCode:
			parts = append(parts, "code="+url.QueryEscape(sess.ID))
		case oidc.ResponseTypeIDToken:
			idToken, err := s.issueIDTokenFor(sess)
			if err != nil {
				return "", err
			}
			parts = append(parts, "id_token="+idToken.String())
		case oidc.ResponseTypeToken:
			accessToken, err := s.tokens.IssueAccessToken(sess)
			if err != nil {
				return "", err
			}
			parts = append(parts, "access_token="+accessToken.Token.String())
		}
	}
	return strings.Join(parts, "&") + "&state=" + url.QueryEscape(sess.AuthRequest.State), nil
}

func (s *Service) successRedirect(sess session.Session) (string, error) {
	response, err := s.generateAuthSuccessResponse(sess)
	if err != nil {
		return "", err
	}
	return sess.AuthRequest.RedirectURI + responseSeparator(sess.AuthRequest.ImpliedResponseMode()) + response, nil
}

// errorRedirect renders the OAuth2 error redirect convention: error, error_description
// and the relying party's original state.
func errorRedirect(sess session.Session, description string) string {
	params := url.Values{}
	params.Set("error", "invalid_request")
	params.Set("error_description", description)
	params.Set("state", sess.AuthRequest.State)
	return sess.AuthRequest.RedirectURI + responseSeparator(sess.AuthRequest.ImpliedResponseMode()) + params.Encode()
}
