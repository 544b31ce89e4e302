package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleFaculty UserRole = "FACULTY"
	RoleStudent UserRole = "STUDENT"
)

// JWTClaims is the verified identity of a caller. TenantID is the college id (colid) scoping every call.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Role     UserRole `json:"role"`
	FullName string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the identity threaded through engine calls.
type Actor struct {
	TenantID string
	UserID   string
	Name     string
	Role     UserRole
}

// Actor converts verified claims into an engine identity.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{TenantID: c.TenantID, UserID: c.UserID, Name: c.FullName, Role: c.Role}
}
