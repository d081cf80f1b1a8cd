// Package authz decides which operator roles may read, change, provision and enter worlds.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
)

// Objects and actions used in policies.
const (
	ObjectWorlds = "worlds"

	ActionRead      = "read"
	ActionWrite     = "write"
	ActionProvision = "provision"
	ActionActivate  = "activate"
)

// Built-in roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// OperationObject names the policy object guarding a tenant-local operation.
func OperationObject(name string) string {
	return "operations/" + name
}

// Authorizer wraps a casbin enforcer loaded with the built-in role policy.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New builds the enforcer with the default policy: admins may do anything, operators may
// change flags and times and enter any operation, viewers may read and enter read-only operations.
func New() (*Authorizer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("load authz model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	policies := [][]string{
		{RoleAdmin, "*", "*"},
		{RoleOperator, ObjectWorlds, ActionRead},
		{RoleOperator, ObjectWorlds, ActionWrite},
		{RoleOperator, "operations/*", ActionActivate},
		{RoleViewer, ObjectWorlds, ActionRead},
		{RoleViewer, OperationObject("main"), ActionActivate},
		{RoleViewer, OperationObject("players"), ActionActivate},
	}
	for _, p := range policies {
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("add policy %v: %w", p, err)
		}
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// Grant adds a policy line at runtime.
func (a *Authorizer) Grant(role, object, action string) error {
	_, err := a.enforcer.AddPolicy(role, object, action)
	return err
}

// Assign makes subject inherit role.
func (a *Authorizer) Assign(subject, role string) error {
	_, err := a.enforcer.AddGroupingPolicy(subject, role)
	return err
}

// Allow reports whether any of roles permits action on object.
func (a *Authorizer) Allow(roles []string, object, action string) (bool, error) {
	for _, role := range roles {
		ok, err := a.enforcer.Enforce(role, object, action)
		if err != nil {
			return false, fmt.Errorf("enforce %s %s %s: %w", role, object, action, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// AllowUser checks the roles carried by authenticated credentials.
func (a *Authorizer) AllowUser(creds *auth.UserCredentials, object, action string) (bool, error) {
	if creds == nil {
		return false, nil
	}
	return a.Allow(creds.Roles(), object, action)
}
