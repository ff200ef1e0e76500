package models

import (
	"fmt"
	"time"
)

// Role is the forum role of a user.
type Role string

const (
	RoleStudent   Role = "student"
	RoleAssistant Role = "assistant"
	RoleTeacher   Role = "teacher"
	RoleLLM       Role = "llm" // account used by the answer generation worker
)

// DefaultRole is assigned to users provisioned on first login.
const DefaultRole = RoleStudent

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleAssistant, RoleTeacher, RoleLLM:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// User is a forum user as recorded in the user directory.
type User struct {
	Sciper  string
	Name    string
	Email   string
	Role    Role
	IsAdmin bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
