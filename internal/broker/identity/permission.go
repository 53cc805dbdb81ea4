package identity

import "github.com/brokkr-io/brokkr/internal/broker/store/model"

// Role gates an endpoint to one or more principal kinds.
type Role string

const (
	RoleAny       Role = "any"
	RoleAdmin     Role = "admin"
	RoleGenerator Role = "generator"
	RoleAgent     Role = "agent"
)

// AllowsKind reports whether a principal of the given kind satisfies the role gate.
func (r Role) AllowsKind(kind model.PrincipalKind) bool {
	switch r {
	case RoleAny:
		return true
	case RoleAdmin:
		return kind == model.PrincipalAdmin
	case RoleGenerator:
		return kind == model.PrincipalGenerator || kind == model.PrincipalAdmin
	case RoleAgent:
		return kind == model.PrincipalAgent
	default:
		return false
	}
}
