// Package claimmapping holds the declarative rules linking OIDC scopes and claim names
// to credential types and field extraction expressions.
package claimmapping

import (
	"fmt"
	"sort"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/pkg/errors"

	"github.com/smartSenseSolutions/waltid-idpkit/config"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
)

// Rule maps a claim name to a credential type and a value expression. Scope is optional;
// rules without a scope are only triggered by an explicit claims request.
type Rule struct {
	Scope           string
	Claim           string
	CredentialType  string
	ValueExpression string
}

func (r Rule) key() string {
	return r.Scope + "\x00" + r.Claim + "\x00" + r.CredentialType + "\x00" + r.ValueExpression
}

// Table is the process-wide registry of claim mapping rules. Loaded once from
// configuration and shared read-only across all sessions.
type Table struct {
	rules   []Rule
	byScope map[string][]Rule
	byClaim map[string][]Rule
}

func (t *Table) Type() framework.Type {
	return framework.ClaimMapping
}

func (t *Table) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if t.byScope == nil || t.byClaim == nil {
		ae.AppendString("no rules indexed")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("claim mapping table is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

// NewTable validates and indexes the configured mapping rules.
func NewTable(cfg config.ClaimMappingServiceConfig) (*Table, error) {
	table := Table{
		rules:   make([]Rule, 0, len(cfg.Mappings)),
		byScope: make(map[string][]Rule),
		byClaim: make(map[string][]Rule),
	}
	for i, m := range cfg.Mappings {
		if m.Claim == "" {
			return nil, errors.Errorf("mapping rule %d: claim name cannot be empty", i)
		}
		if m.CredentialType == "" {
			return nil, errors.Errorf("mapping rule %d: credential type cannot be empty", i)
		}
		if m.ValueExpression == "" {
			return nil, errors.Errorf("mapping rule %d: value expression cannot be empty", i)
		}
		rule := Rule{
			Scope:           m.Scope,
			Claim:           m.Claim,
			CredentialType:  m.CredentialType,
			ValueExpression: m.ValueExpression,
		}
		table.rules = append(table.rules, rule)
		if rule.Scope != "" {
			table.byScope[rule.Scope] = append(table.byScope[rule.Scope], rule)
		}
		table.byClaim[rule.Claim] = append(table.byClaim[rule.Claim], rule)
	}
	return &table, nil
}

// CredentialTypesForScopes returns the de-duplicated set of credential types mapped to
// any of the given scopes, in a stable order.
func (t *Table) CredentialTypesForScopes(scopes []string) []string {
	seen := make(map[string]bool)
	var types []string
	for _, scope := range scopes {
		for _, rule := range t.byScope[scope] {
			if !seen[rule.CredentialType] {
				seen[rule.CredentialType] = true
				types = append(types, rule.CredentialType)
			}
		}
	}
	return types
}

// RulesFor returns the de-duplicated union of rules triggered by any of the requested
// scopes and rules triggered by any explicitly requested claim name.
func (t *Table) RulesFor(scopes []string, claimNames []string) []Rule {
	seen := make(map[string]bool)
	var rules []Rule
	appendRule := func(rule Rule) {
		if !seen[rule.key()] {
			seen[rule.key()] = true
			rules = append(rules, rule)
		}
	}
	for _, scope := range scopes {
		for _, rule := range t.byScope[scope] {
			appendRule(rule)
		}
	}
	for _, claim := range claimNames {
		for _, rule := range t.byClaim[claim] {
			appendRule(rule)
		}
	}
	return rules
}

// ScopesSupported returns the sorted set of scopes any rule is bound to.
func (t *Table) ScopesSupported() []string {
	scopes := make([]string, 0, len(t.byScope))
	for scope := range t.byScope {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// ClaimsSupported returns the sorted set of claim names any rule can produce.
func (t *Table) ClaimsSupported() []string {
	claims := make([]string, 0, len(t.byClaim))
	for claim := range t.byClaim {
		claims = append(claims, claim)
	}
	sort.Strings(claims)
	return claims
}
