package domain

import "time"

// User is the auth-side user row. TokenVersion is the per-user counter that,
// when bumped, invalidates every previously issued token for the user.
type User struct {
	ID                  string     `gorm:"primaryKey;size:64" json:"id"`
	Email               string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash        string     `gorm:"size:128;not null" json:"-"`
	FirstName           string     `gorm:"size:100" json:"first_name"`
	LastName            string     `gorm:"size:100" json:"last_name"`
	Role                string     `gorm:"size:32;not null;default:worker" json:"role"`
	IsActive            bool       `gorm:"not null;default:true" json:"is_active"`
	IsEmailVerified     bool       `gorm:"not null;default:false" json:"is_email_verified"`
	TokenVersion        int        `gorm:"not null;default:1" json:"-"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	AccountLockedUntil  *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP         string     `gorm:"size:64" json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (u *User) IsLocked(now time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}
