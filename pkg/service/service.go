package service

import (
	"fmt"

	"github.com/TBD54566975/ssi-sdk/crypto"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/bridge"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/claimmapping"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/presentation"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/projection"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/session"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/token"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/wellknown"
)

// IDPKitService represents all services and their dependencies independent of transport
type IDPKitService struct {
	ClaimMapping *claimmapping.Table
	Presentation *presentation.Builder
	Projection   *projection.Engine
	Session      *session.Store
	Token        *token.Service
	Bridge       *bridge.Service
	WellKnown    *wellknown.Service

	// Callbacks routes verification results back to the bridge by IDP type.
	Callbacks *siop.Registry
}

// InstantiateIDPKitService creates a new instance of the IDP Kit which instantiates all
// services and their dependencies independent of transport.
func InstantiateIDPKitService(config config.ServicesConfig) (*IDPKitService, error) {
	if err := validateServiceConfig(config); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate IDP Kit service, invalid config")
	}
	service, err := instantiateServices(config)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the idp kit service")
	}
	return service, nil
}

func validateServiceConfig(config config.ServicesConfig) error {
	if config.ExternalURL == "" {
		return fmt.Errorf("no external url provided")
	}
	if config.TokenConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", framework.Token)
	}
	if config.ClaimMappingConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", framework.ClaimMapping)
	}
	if config.BridgeConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", framework.Bridge)
	}
	return nil
}

// instantiateServices begins all instantiates and their dependencies
func instantiateServices(config config.ServicesConfig) (*IDPKitService, error) {
	claimMappingTable, err := claimmapping.NewTable(config.ClaimMappingConfig)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the claim mapping table")
	}

	presentationBuilder, err := presentation.NewBuilder(claimMappingTable)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the presentation builder")
	}

	projectionEngine, err := projection.NewEngine(claimMappingTable, nil)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the projection engine")
	}

	sessionStore, err := session.NewStore(config.BridgeConfig.SessionTTL, nil)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the session store")
	}

	// the signing key is resolved exactly once; failure here is fatal
	signingContext, err := token.NewSigningContext(config.ExternalURL, crypto.KeyType(config.TokenConfig.KeyType))
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not resolve the provider signing key")
	}

	tokenService, err := token.NewTokenService(config.TokenConfig, signingContext, nil)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the token service")
	}

	bridgeService, err := bridge.NewBridgeService(config.BridgeConfig, config.ExternalURL, sessionStore,
		presentationBuilder, projectionEngine, tokenService)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the bridge service")
	}

	wellKnownService, err := wellknown.NewWellKnownService(config.ExternalURL, claimMappingTable,
		config.BridgeConfig.Wallets, signingContext.PublicJWK)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the well-known service")
	}

	return &IDPKitService{
		ClaimMapping: claimMappingTable,
		Presentation: presentationBuilder,
		Projection:   projectionEngine,
		Session:      sessionStore,
		Token:        tokenService,
		Bridge:       bridgeService,
		WellKnown:    wellKnownService,
		Callbacks:    siop.NewRegistry(bridgeService),
	}, nil
}

// GetServices returns all services
func (s *IDPKitService) GetServices() []framework.Service {
	return []framework.Service{
		s.ClaimMapping,
		s.Presentation,
		s.Projection,
		s.Session,
		s.Token,
		s.Bridge,
		s.WellKnown,
	}
}

// Close releases background resources held by the services.
func (s *IDPKitService) Close() {
	s.Session.Close()
}
