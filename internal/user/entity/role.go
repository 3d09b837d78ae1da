package entity

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleUser       Role = "ROLE_USER"
	RoleHR         Role = "ROLE_HR"
	RoleManager    Role = "ROLE_MANAGER"
	RoleAdmin      Role = "ROLE_ADMIN"
	RoleSuperAdmin Role = "ROLE_SUPER_ADMIN"
)

const (
	AuthorityRead   = "user:read"
	AuthorityCreate = "user:create"
	AuthorityUpdate = "user:update"
	AuthorityDelete = "user:delete"
)

var ErrUnknownRole = errors.New("unknown role")

var roleAuthorities = map[Role][]string{
	RoleUser:       {AuthorityRead},
	RoleHR:         {AuthorityRead, AuthorityUpdate},
	RoleManager:    {AuthorityRead, AuthorityUpdate},
	RoleAdmin:      {AuthorityRead, AuthorityCreate, AuthorityUpdate},
	RoleSuperAdmin: {AuthorityRead, AuthorityCreate, AuthorityUpdate, AuthorityDelete},
}

// Authorities returns a fresh copy of the permission set granted by r.
func (r Role) Authorities() []string {
	return append([]string(nil), roleAuthorities[r]...)
}

func (r Role) Valid() bool {
	_, ok := roleAuthorities[r]
	return ok
}

// ParseRole accepts "admin", "ADMIN" or "ROLE_ADMIN".
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "ROLE_") {
		name = "ROLE_" + name
	}
	r := Role(name)
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}
