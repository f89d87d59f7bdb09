package users

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	inviteCodePrefix    = "TOMO-"
	inviteCodeSuffixLen = 4
)

// User is the internal record behind an external identity-provider account.
type User struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ExternalID        string    `gorm:"column:external_id;size:190;not null;uniqueIndex:idx_users_external_id"`
	Username          string    `gorm:"column:username;size:190;not null"`
	Email             string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	InviteCode        string    `gorm:"column:invite_code;size:32;not null;index:idx_users_invite_code"`
	RefreshCredential *string   `gorm:"column:refresh_credential;size:64"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// InviteCode derives the shareable handle for an external id: "TOMO-" plus its last four characters.
func InviteCode(externalID string) string {
	runes := []rune(externalID)
	if len(runes) > inviteCodeSuffixLen {
		runes = runes[len(runes)-inviteCodeSuffixLen:]
	}
	return inviteCodePrefix + string(runes)
}

// hashCredential keeps refresh tokens out of the users table in clear text.
func hashCredential(credential string) string {
	digest := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(digest[:])
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
