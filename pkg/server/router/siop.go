package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/smartSenseSolutions/waltid-idpkit/pkg/server/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
)

// SIOPRouter receives the verification engine's callback and routes it back to the
// session it correlates with.
type SIOPRouter struct {
	registry *siop.Registry
}

func NewSIOPRouter(registry *siop.Registry) (*SIOPRouter, error) {
	if registry == nil {
		return nil, errors.New("callback registry cannot be nil")
	}
	return &SIOPRouter{registry: registry}, nil
}

type CallbackRequest struct {
	// State is the correlation token the presentation request was issued with.
	State  string                  `json:"state" validate:"required"`
	Result siop.VerificationResult `json:"result"`
}

type CallbackResponse struct {
	// RedirectURI is where the user agent should be sent: the relying party's redirect
	// with either tokens or an OAuth2 error.
	RedirectURI string `json:"redirectUri"`
}

// Callback godoc
//
//	@Summary		SIOP Callback
//	@Description	Accepts a verification result for a pending presentation request and
//	@Description	returns the redirect resolving the originating authorization exchange.
//	@Tags			SIOP
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CallbackRequest	true	"request body"
//	@Success		200		{object}	CallbackResponse
//	@Failure		400		{string}	string	"Bad request"
//	@Router			/api/siop/callback [post]
func (r SIOPRouter) Callback(c *gin.Context) {
	var request CallbackRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		framework.RespondError(c, err)
		return
	}

	redirect, err := r.registry.DispatchCallback(request.State, request.Result)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			framework.LoggingRespondError(c, err, http.StatusBadRequest)
			return
		}
		framework.LoggingRespondErrWithMsg(c, err, "could not continue session", http.StatusBadRequest)
		return
	}
	framework.Respond(c, CallbackResponse{RedirectURI: redirect}, http.StatusOK)
}
