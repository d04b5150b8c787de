package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/smartSenseSolutions/waltid-idpkit/pkg/server/framework"
	svcframework "github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/wellknown"
)

// WellKnownRouter serves the provider's discovery document and public key set.
type WellKnownRouter struct {
	service *wellknown.Service
}

func NewWellKnownRouter(s svcframework.Service) (*WellKnownRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	wellKnownService, ok := s.(*wellknown.Service)
	if !ok {
		return nil, fmt.Errorf("could not create well-known router with service type: %s", s.Type())
	}
	return &WellKnownRouter{service: wellKnownService}, nil
}

// ProviderMetadata godoc
//
//	@Summary		OpenID Provider Metadata
//	@Description	Returns the OIDC discovery document.
//	@Tags			WellKnown
//	@Produce		json
//	@Success		200	{object}	wellknown.ProviderMetadata
//	@Router			/.well-known/openid-configuration [get]
func (r WellKnownRouter) ProviderMetadata(c *gin.Context) {
	framework.Respond(c, r.service.ProviderMetadata(), http.StatusOK)
}

// KeySet godoc
//
//	@Summary		JSON Web Key Set
//	@Description	Returns the provider's public signing keys.
//	@Tags			WellKnown
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Router			/api/oidc/jwkSet [get]
func (r WellKnownRouter) KeySet(c *gin.Context) {
	framework.Respond(c, r.service.KeySet(), http.StatusOK)
}
