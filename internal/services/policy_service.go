package services

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
)

const routeModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// RoutePolicy decides which role areas a role may enter. Each dashboard
// route defines an area (its first path segment); a role is allowed into
// its own area only. Paths outside every area are public.
type RoutePolicy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
	areas    []string
}

// NewRoutePolicy builds an in-memory enforcer seeded from the dashboards,
// then widened by routes.Grants
func NewRoutePolicy(routes config.Routes) (*RoutePolicy, error) {
	m, err := model.NewModelFromString(routeModel)
	if err != nil {
		return nil, fmt.Errorf("parse route model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create route enforcer: %w", err)
	}

	p := &RoutePolicy{enforcer: enforcer}
	for role, dashboard := range routes.Dashboards {
		area := areaOf(dashboard)
		if area == "" {
			continue
		}
		if _, err := enforcer.AddPolicy(casbinRole(role), area+"/*", "GET|POST"); err != nil {
			return nil, fmt.Errorf("seed route policy for %s: %w", role, err)
		}
		p.addArea(area)
	}
	for role, prefixes := range routes.Grants {
		for _, prefix := range prefixes {
			if err := p.Grant(role, prefix); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// Allowed implements domain.AccessPolicy
func (p *RoutePolicy) Allowed(role domain.Role, requestPath, method string) (bool, error) {
	obj, restricted := p.resolve(requestPath)
	if !restricted {
		return true, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enforcer.Enforce(casbinRole(role), obj, method)
}

// Grant lets role into the area rooted at prefix as well
func (p *RoutePolicy) Grant(role domain.Role, prefix string) error {
	area := areaOf(prefix)
	if area == "" {
		return fmt.Errorf("grant %s: %q is not an area", role, prefix)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.enforcer.AddPolicy(casbinRole(role), area+"/*", "GET|POST"); err != nil {
		return fmt.Errorf("grant %s: %w", role, err)
	}
	p.addArea(area)
	return nil
}

func (p *RoutePolicy) addArea(area string) {
	for _, known := range p.areas {
		if known == area {
			return
		}
	}
	p.areas = append(p.areas, area)
}

// Policies returns the current rules, mostly for diagnostics
func (p *RoutePolicy) Policies() [][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	policies, _ := p.enforcer.GetPolicy()
	return policies
}

// resolve cleans requestPath and reports whether it lies in an area. The
// area root itself is matched as "<area>/".
func (p *RoutePolicy) resolve(requestPath string) (string, bool) {
	clean := path.Clean("/" + requestPath)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, area := range p.areas {
		if clean == area {
			return area + "/", true
		}
		if strings.HasPrefix(clean, area+"/") {
			return clean, true
		}
	}
	return clean, false
}

func casbinRole(role domain.Role) string {
	return "role_" + string(role)
}

// areaOf returns the first path segment of route, e.g. "/agency" for
// "/agency/dashboard"
func areaOf(route string) string {
	clean := strings.Trim(path.Clean("/"+route), "/")
	if clean == "" {
		return ""
	}
	first, _, _ := strings.Cut(clean, "/")
	return "/" + first
}

var _ domain.AccessPolicy = (*RoutePolicy)(nil)
