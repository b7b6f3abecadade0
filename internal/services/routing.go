package services

import (
	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
)

// RoleRedirect returns the dashboard for role, or the home route when the
// role is unknown
func RoleRedirect(role string, routes config.Routes) string {
	if path, ok := routes.Dashboards[domain.Role(role)]; ok && path != "" {
		return path
	}
	return routes.Home
}

// GuardAction is what a guarded route should do with a request
type GuardAction int

const (
	// GuardSuspend: validation is in flight, decide nothing yet
	GuardSuspend GuardAction = iota
	// GuardRender: let the page through
	GuardRender
	// GuardRedirect: send the user to Location
	GuardRedirect
)

func (a GuardAction) String() string {
	switch a {
	case GuardSuspend:
		return "suspend"
	case GuardRender:
		return "render"
	case GuardRedirect:
		return "redirect"
	}
	return "unknown"
}

// GuardDecision is the outcome of a route guard
type GuardDecision struct {
	Action   GuardAction
	Location string
}

// RequireAuth protects pages that need a session. Anonymous users are
// sent to the login route, but never while validation is in flight.
func RequireAuth(view SessionView, routes config.Routes) GuardDecision {
	if view.IsValidating {
		return GuardDecision{Action: GuardSuspend}
	}
	if !view.IsAuthenticated {
		return GuardDecision{Action: GuardRedirect, Location: routes.Login}
	}
	return GuardDecision{Action: GuardRender}
}

// RejectAuth protects login and registration pages. Authenticated users
// are sent to their role dashboard.
func RejectAuth(view SessionView, routes config.Routes) GuardDecision {
	if view.IsValidating {
		return GuardDecision{Action: GuardSuspend}
	}
	if view.IsAuthenticated {
		role := ""
		if view.User != nil {
			role = string(view.User.Role)
		}
		return GuardDecision{Action: GuardRedirect, Location: RoleRedirect(role, routes)}
	}
	return GuardDecision{Action: GuardRender}
}
