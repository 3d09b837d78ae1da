package entity

import "time"

// User is an account row in the `users` table.
// Password holds the bcrypt hash and is never serialized.
type User struct {
	ID                   int64      `json:"id" db:"id"`
	UserID               string     `json:"userId" db:"user_id"`
	FirstName            string     `json:"firstName" db:"first_name"`
	LastName             string     `json:"lastName" db:"last_name"`
	Username             string     `json:"username" db:"username"`
	Email                string     `json:"email" db:"email"`
	Password             string     `json:"-" db:"password"`
	ProfileImageURL      string     `json:"profileImageUrl" db:"profile_image_url"`
	Role                 Role       `json:"role" db:"role"`
	Authorities          []string   `json:"authorities" db:"-"`
	Active               bool       `json:"active" db:"is_active"`
	NotLocked            bool       `json:"notLocked" db:"is_not_locked"`
	JoinDate             time.Time  `json:"joinDate" db:"join_date"`
	LastLoginDate        *time.Time `json:"lastLoginDate,omitempty" db:"last_login_date"`
	LastLoginDateDisplay *time.Time `json:"lastLoginDateDisplay,omitempty" db:"last_login_date_display"`
}

// Clone returns a deep copy so stored records are not aliased by callers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Authorities = append([]string(nil), u.Authorities...)
	if u.LastLoginDate != nil {
		t := *u.LastLoginDate
		c.LastLoginDate = &t
	}
	if u.LastLoginDateDisplay != nil {
		t := *u.LastLoginDateDisplay
		c.LastLoginDateDisplay = &t
	}
	return &c
}

// Principal is the read-only view of a User handed to the authentication path.
type Principal struct {
	Username     string
	PasswordHash string
	Authorities  []string
	Enabled      bool
	NotLocked    bool
}

// NewPrincipal snapshots u.
func NewPrincipal(u *User) *Principal {
	return &Principal{
		Username:     u.Username,
		PasswordHash: u.Password,
		Authorities:  append([]string(nil), u.Authorities...),
		Enabled:      u.Active,
		NotLocked:    u.NotLocked,
	}
}
