package models

import "github.com/golang-jwt/jwt/v5"

// Application permissions
const (
	// Admin permissions
	PermissionReadAdmin  = "admin:read"
	PermissionWriteAdmin = "admin:write"

	// Rule permissions
	PermissionRuleRead  = "rules:read"
	PermissionRuleWrite = "rules:write"

	// Pool and account permissions
	PermissionPoolRead     = "pools:read"
	PermissionPoolWrite    = "pools:write"
	PermissionAccountRead  = "accounts:read"
	PermissionAccountWrite = "accounts:write"

	// Decision permissions
	PermissionDecisionRead = "decisions:read"
	PermissionSimulate     = "routing:simulate"

	// Operator management permissions
	PermissionOperatorRead  = "operators:read"
	PermissionOperatorWrite = "operators:write"
)

type OperatorClaims struct {
	jwt.RegisteredClaims
	OperatorID   uint     `json:"operator_id"`
	Email        string   `json:"email"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	TokenVersion int      `json:"token_version"`
}

// HasPermission checks if the claims include a specific permission
func (c *OperatorClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{
			PermissionReadAdmin,
			PermissionWriteAdmin,
			PermissionRuleRead,
			PermissionRuleWrite,
			PermissionPoolRead,
			PermissionPoolWrite,
			PermissionAccountRead,
			PermissionAccountWrite,
			PermissionDecisionRead,
			PermissionSimulate,
			PermissionOperatorRead,
			PermissionOperatorWrite,
		}
	case RoleOperator:
		return []string{
			PermissionRuleRead,
			PermissionRuleWrite,
			PermissionPoolRead,
			PermissionPoolWrite,
			PermissionAccountRead,
			PermissionDecisionRead,
			PermissionSimulate,
		}
	case RoleViewer:
		return []string{
			PermissionRuleRead,
			PermissionPoolRead,
			PermissionAccountRead,
			PermissionDecisionRead,
		}
	default:
		return []string{}
	}
}
