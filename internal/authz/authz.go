// Package authz decides which actors may write to or read the ledger.
package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// Objects and actions checked by the governance layer.
const (
	ObjectLedger = "ledger"
	ActAppend    = "append"
	ActRead      = "read"
)

// Roles of the default policy.
const (
	RoleAdmin   = "role:admin"
	RoleAgent   = "role:agent"
	RoleAuditor = "role:auditor"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var defaultPolicies = [][]string{
	{RoleAdmin, ObjectLedger, ActAppend},
	{RoleAdmin, ObjectLedger, ActRead},
	{RoleAgent, ObjectLedger, ActAppend},
	{RoleAgent, ObjectLedger, ActRead},
	{RoleAuditor, ObjectLedger, ActRead},
}

var defaultRoles = [][]string{
	{"SYSTEM", RoleAdmin},
	{"FedEx Admin", RoleAdmin},
	{"DCA Agent", RoleAgent},
	{"Auditor", RoleAuditor},
}

// ParseMode maps a configuration string to a Mode. Empty means shadow.
func ParseMode(raw string) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeShadow, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow, ModeDisabled:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("authz: invalid mode %q (expected enforce|shadow|disabled)", raw)
	}
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

// New builds an Authorizer with the built-in role policy.
func New(mode Mode) (*Authorizer, error) {
	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: load model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: create enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("authz: add policies: %w", err)
	}
	if _, err := enforcer.AddGroupingPolicies(defaultRoles); err != nil {
		return nil, fmt.Errorf("authz: add roles: %w", err)
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

// NewFromFile builds an Authorizer from a casbin CSV policy file
// (p and g lines) evaluated against the built-in RBAC model.
func NewFromFile(policyPath string, mode Mode) (*Authorizer, error) {
	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: load model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	if err != nil {
		return nil, fmt.Errorf("authz: load policy %s: %w", policyPath, err)
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

// AssignRole grants role to actor at runtime.
func (a *Authorizer) AssignRole(actor, role string) error {
	if actor == "" {
		return errors.New("authz: actor must not be empty")
	}
	_, err := a.enforcer.AddGroupingPolicy(actor, role)
	return err
}

// Mode returns the configured mode.
func (a *Authorizer) Mode() Mode { return a.mode }

// Authorize reports whether actor may perform act on obj. In shadow mode
// the decision is computed but not enforced.
func (a *Authorizer) Authorize(actor, obj, act string) (allowed bool, enforced bool, err error) {
	switch a.mode {
	case ModeDisabled:
		return true, false, nil
	case ModeShadow:
		ok, err := a.enforcer.Enforce(actor, obj, act)
		if err != nil {
			return false, false, err
		}
		return ok, false, nil
	case ModeEnforce:
		ok, err := a.enforcer.Enforce(actor, obj, act)
		if err != nil {
			return false, true, err
		}
		return ok, true, nil
	default:
		return false, false, errors.New("authz: unknown mode")
	}
}
