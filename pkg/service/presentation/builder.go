// Package presentation derives presentation requests from OIDC authorization requests.
package presentation

import (
	"fmt"

	"github.com/TBD54566975/ssi-sdk/credential/exchange"
	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/claimmapping"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
)

const (
	// credentialTypePath selects the elements of a credential's type array.
	credentialTypePath = "$.type[*]"

	submissionGroup = "A"
)

// Builder turns an authorization request into a presentation definition describing which
// credential types the wallet must prove.
type Builder struct {
	table *claimmapping.Table
}

func (b *Builder) Type() framework.Type {
	return framework.Presentation
}

func (b *Builder) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if b.table == nil {
		ae.AppendString("no claim mapping table configured")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("presentation builder is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewBuilder(table *claimmapping.Table) (*Builder, error) {
	builder := Builder{table: table}
	if !builder.Status().IsReady() {
		return nil, errors.New(builder.Status().Message)
	}
	return &builder, nil
}

// Build produces the presentation definition for an authorization request. An explicit
// definition supplied via the vp_token claim is used verbatim; otherwise the requested
// scopes are expanded through the claim mapping table into one input descriptor per
// distinct credential type, grouped under a single all-of submission requirement.
// A request whose scopes map to no credential type yields a definition with zero
// descriptors; rejecting that is left to callers.
func (b *Builder) Build(authRequest oidc.AuthorizationRequest) (*exchange.PresentationDefinition, error) {
	if explicit := authRequest.Claims.PresentationDefinition(); explicit != nil {
		logrus.Debugf("using explicit presentation definition: %s", explicit.ID)
		return explicit, nil
	}

	credentialTypes := b.table.CredentialTypesForScopes(authRequest.Scopes)
	if len(credentialTypes) == 0 {
		logrus.Debugf("no credential types mapped for scopes: %v", authRequest.Scopes)
	}

	descriptors := make([]exchange.InputDescriptor, 0, len(credentialTypes))
	for _, credentialType := range credentialTypes {
		descriptors = append(descriptors, exchange.InputDescriptor{
			ID:    credentialType,
			Group: []string{submissionGroup},
			Constraints: &exchange.Constraints{
				Fields: []exchange.Field{
					{
						// matches when the credential's type array contains the type
						Path: []string{credentialTypePath},
						Filter: &exchange.Filter{
							Type:    "string",
							Pattern: fmt.Sprintf("^%s$", credentialType),
						},
					},
				},
			},
		})
	}

	definition := exchange.PresentationDefinition{
		ID:               uuid.NewString(),
		InputDescriptors: descriptors,
		SubmissionRequirements: []exchange.SubmissionRequirement{
			{
				Rule: exchange.All,
				FromOption: exchange.FromOption{
					From: submissionGroup,
				},
			},
		},
	}
	return &definition, nil
}
