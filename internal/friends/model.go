package friends

import (
	"time"

	"github.com/mark77234/Tomo/internal/users"
	"gorm.io/datatypes"
)

// FriendEdge is one direction of a friendship. Every edge (a,b) has a reciprocal (b,a)
// created and removed in the same transaction.
type FriendEdge struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       int64          `gorm:"column:user_id;not null;uniqueIndex:idx_friends_pair,priority:1"`
	FriendUserID int64          `gorm:"column:friend_user_id;not null;uniqueIndex:idx_friends_pair,priority:2;index:idx_friends_friend_user"`
	MScore       int            `gorm:"column:m_score;not null;default:0"`
	BScore       int            `gorm:"column:b_score;not null;default:0"`
	Friendship   int            `gorm:"column:friendship;not null;default:0"`
	CreatedOn    datatypes.Date `gorm:"column:created_at;not null"`
	Owner        users.User     `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:RESTRICT"`
	Friend       users.User     `gorm:"foreignKey:FriendUserID;references:ID;constraint:OnDelete:RESTRICT"`
}

// TableName provides the explicit table binding for GORM.
func (FriendEdge) TableName() string {
	return "friends"
}

// Friend is the view of one outbound edge together with the counterpart's profile.
type Friend struct {
	Email      string
	Username   string
	Friendship int
	CreatedOn  time.Time
}

// CivilDate truncates t to its calendar day, expressed as UTC midnight.
func CivilDate(t time.Time) datatypes.Date {
	year, month, day := t.Date()
	return datatypes.Date(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}
