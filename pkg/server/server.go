// Package server contains the full set of handler functions and routes
// supported by the http api
package server

import (
	"context"
	"os"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/server/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/server/middleware"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/server/router"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/bridge"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/wellknown"
)

const (
	HealthPrefix    = "/health"
	ReadinessPrefix = "/readiness"

	OpenIDConfigurationPath = "/.well-known/openid-configuration"
)

// IDPKitServer exposes all dependencies needed to run a http server and all its services
type IDPKitServer struct {
	*config.ServerConfig
	*service.IDPKitService
	*framework.Server
}

// NewIDPKitServer does two things: instantiates all services and registers their HTTP bindings
func NewIDPKitServer(shutdown chan os.Signal, cfg config.IDPKitConfig) (*IDPKitServer, error) {
	// creates an HTTP server from the framework, and wraps it to extend it for the IDP Kit
	engine := setUpEngine(cfg.Server, shutdown)
	httpServer := framework.NewHTTPServer(cfg.Server, engine, shutdown)
	idpKit, err := service.InstantiateIDPKitService(cfg.Services)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate idp kit service")
	}

	// service-level routers
	engine.GET(HealthPrefix, router.Health)
	engine.GET(ReadinessPrefix, router.Readiness(idpKit.GetServices()))

	if err = WellKnownAPI(engine, idpKit.WellKnown); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate WellKnown API")
	}
	if err = OIDCAPI(engine, idpKit.Bridge); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate OIDC API")
	}
	if err = SIOPAPI(engine, idpKit); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate SIOP API")
	}

	return &IDPKitServer{
		Server:        httpServer,
		IDPKitService: idpKit,
		ServerConfig:  &cfg.Server,
	}, nil
}

// PreShutdownHooks releases service resources ahead of the http server shutdown.
func (s *IDPKitServer) PreShutdownHooks(_ context.Context) error {
	s.IDPKitService.Close()
	return nil
}

// setUpEngine creates the gin engine and sets up the middleware based on config
func setUpEngine(cfg config.ServerConfig, shutdown chan os.Signal) *gin.Engine {
	middlewares := gin.HandlersChain{
		gin.Recovery(),
		middleware.Errors(shutdown),
		middleware.Logger(logrus.StandardLogger()),
		middleware.Metrics(),
	}
	if cfg.EnableAllowAllCORS {
		middlewares = append(middlewares, middleware.CORS())
	}

	// set up engine and middleware
	engine := gin.New()
	engine.Use(middlewares...)

	switch cfg.Environment {
	case config.EnvironmentDev:
		gin.SetMode(gin.DebugMode)
	case config.EnvironmentTest:
		gin.SetMode(gin.TestMode)
	case config.EnvironmentProd:
		gin.SetMode(gin.ReleaseMode)
	}
	return engine
}

// OIDCAPI registers all HTTP routes for the OIDC endpoints
func OIDCAPI(engine *gin.Engine, service *bridge.Service) (err error) {
	oidcRouter, err := router.NewOIDCRouter(service)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating OIDC router")
	}

	engine.GET(wellknown.AuthorizePath, oidcRouter.Authorize)
	engine.POST(wellknown.PARPath, oidcRouter.PushedAuthorizationRequest)
	engine.POST(wellknown.TokenPath, oidcRouter.Token)
	engine.GET(wellknown.UserInfoPath, oidcRouter.UserInfo)
	return
}

// SIOPAPI registers the verification engine's callback route
func SIOPAPI(engine *gin.Engine, idpKit *service.IDPKitService) (err error) {
	siopRouter, err := router.NewSIOPRouter(idpKit.Callbacks)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating SIOP router")
	}

	engine.POST(bridge.SIOPCallbackPath, siopRouter.Callback)
	return
}

// WellKnownAPI registers the discovery document and key set routes
func WellKnownAPI(engine *gin.Engine, service *wellknown.Service) (err error) {
	wellKnownRouter, err := router.NewWellKnownRouter(service)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating well-known router")
	}

	engine.GET(OpenIDConfigurationPath, wellKnownRouter.ProviderMetadata)
	engine.GET(wellknown.JWKSPath, wellKnownRouter.KeySet)
	return
}
