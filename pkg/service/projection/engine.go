// Package projection maps verified credential fields onto OIDC claims.
package projection

import (
	"fmt"
	"strings"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/oliveagle/jsonpath"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/claimmapping"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/oidc"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
)

// Evaluator resolves a field path against a credential's JSON body. Narrow on purpose so
// the path library can be swapped without touching the engine.
type Evaluator interface {
	Evaluate(document any, path string) (any, error)
}

// JSONPathEvaluator evaluates JSONPath expressions.
type JSONPathEvaluator struct{}

func (JSONPathEvaluator) Evaluate(document any, path string) (any, error) {
	return jsonpath.JsonPathLookup(document, path)
}

// Engine projects verified credentials onto a flat claim set, driven by the claim
// mapping table and the scopes/claims the relying party actually requested.
type Engine struct {
	table     *claimmapping.Table
	evaluator Evaluator
}

func (e *Engine) Type() framework.Type {
	return framework.Projection
}

func (e *Engine) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if e.table == nil {
		ae.AppendString("no claim mapping table configured")
	}
	if e.evaluator == nil {
		ae.AppendString("no field path evaluator configured")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("projection engine is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewEngine(table *claimmapping.Table, evaluator Evaluator) (*Engine, error) {
	if evaluator == nil {
		evaluator = JSONPathEvaluator{}
	}
	engine := Engine{table: table, evaluator: evaluator}
	if !engine.Status().IsReady() {
		return nil, errors.New(engine.Status().Message)
	}
	return &engine, nil
}

// ProjectClaims computes the full claim set for a verified presentation. Every rule
// triggered by a requested scope or claim must be satisfiable by some verified
// credential; a rule whose credential type is absent from the presentation is a hard
// failure rather than a silently omitted claim.
func (e *Engine) ProjectClaims(authRequest oidc.AuthorizationRequest, result siop.VerificationResult) (map[string]any, error) {
	claims := make(map[string]any)

	if authRequest.Claims.RequestsVPToken() {
		claims[oidc.ClaimVPToken] = result.RawPresentation
	}

	rules := e.table.RulesFor(authRequest.Scopes, authRequest.Claims.RequestedClaimNames())
	for _, rule := range rules {
		credential := result.FindCredentialByType(rule.CredentialType)
		if credential == nil {
			return nil, errors.Errorf(
				"verified presentation does not satisfy requested claim mapping: no credential of type %s for claim %s",
				rule.CredentialType, rule.Claim)
		}
		value, err := e.evaluateExpression(credential.Body, rule.ValueExpression)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating value expression for claim %s", rule.Claim)
		}
		claims[rule.Claim] = value
	}

	logrus.Debugf("projected %d claims from %d rules", len(claims), len(rules))
	return claims, nil
}

// evaluateExpression resolves a value expression against a credential body. An
// expression holding several space-separated paths evaluates each and joins the results
// with a single space.
func (e *Engine) evaluateExpression(body map[string]any, expression string) (any, error) {
	paths := strings.Fields(expression)
	if len(paths) == 0 {
		return nil, errors.New("empty value expression")
	}
	if len(paths) == 1 {
		return e.evaluator.Evaluate(body, paths[0])
	}
	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		value, err := e.evaluator.Evaluate(body, path)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating path %s", path)
		}
		parts = append(parts, fmt.Sprintf("%v", value))
	}
	return strings.Join(parts, " "), nil
}

// FilterIDTokenClaims reduces the full claim set to what belongs in the ID token:
// everything for an implicit flow with no code, the explicitly requested id_token subset
// when a claims parameter was given, and nothing otherwise (the full set stays reachable
// through the user-info operation).
func FilterIDTokenClaims(authRequest oidc.AuthorizationRequest, claims map[string]any) map[string]any {
	if authRequest.IsImplicitFlow() {
		return claims
	}
	filtered := make(map[string]any)
	if authRequest.Claims == nil {
		return filtered
	}
	for _, name := range authRequest.Claims.IDTokenClaimNames() {
		if value, ok := claims[name]; ok {
			filtered[name] = value
		}
	}
	return filtered
}
