package domain

import "time"

// RefreshToken is the persisted record behind a composite refresh token.
// TokenHash holds the SHA-256 digest of the random half only; the signed JWT
// half is never stored, so a leaked row alone cannot be replayed.
type RefreshToken struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TokenID       string     `gorm:"size:64;uniqueIndex;not null" json:"token_id"`
	UserID        string     `gorm:"size:64;index;not null" json:"user_id"`
	TokenHash     string     `gorm:"size:64;not null" json:"-"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	Revoked       bool       `gorm:"index;not null;default:false" json:"revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:255" json:"revoked_reason,omitempty"`
	DeviceInfo    string     `gorm:"size:512" json:"device_info"`
	Fingerprint   string     `gorm:"size:32" json:"-"`
	IP            string     `gorm:"size:64" json:"ip"`
	LastUsedAt    *time.Time `gorm:"index" json:"last_used_at,omitempty"`
	UsageCount    int        `gorm:"not null;default:0" json:"usage_count"`
	Version       int        `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (t *RefreshToken) IsExpired() bool {
	return t.ExpiresAt.Before(time.Now())
}

func (t *RefreshToken) IsActive() bool {
	return !t.Revoked && !t.IsExpired()
}

// IsSuspicious flags rapid successive uses of the same record, a weak signal
// of a stolen token being replayed next to the legitimate client. Advisory
// only; callers surface it to the audit sink, never as a hard deny.
func (t *RefreshToken) IsSuspicious(now time.Time) bool {
	return t.LastUsedAt != nil && now.Sub(*t.LastUsedAt) < time.Second
}
