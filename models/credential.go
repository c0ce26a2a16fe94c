package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OAuthCredential stores the destination-API tokens for one tenant user.
// There is never more than one live row per user; refreshes update in place
// (last writer wins).
type OAuthCredential struct {
	Id           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"uniqueIndex;not null"`
	AccessToken  string     `json:"-" gorm:"not null"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (cred *OAuthCredential) BeforeCreate(tx *gorm.DB) (err error) {
	if cred.Id == "" {
		cred.Id = uuid.NewString()
	}
	return
}

// Expired reports whether the access token needs a refresh. A small skew
// avoids using a token that dies mid-request.
func (cred *OAuthCredential) Expired(now time.Time) bool {
	if cred.ExpiresAt == nil {
		return false
	}
	return now.After(cred.ExpiresAt.Add(-20 * time.Second))
}
