package groups

import (
	"time"

	"github.com/mark77234/Tomo/internal/users"
)

// Group is a named collection of users ("moim") with exactly one leader.
type Group struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Title       string    `gorm:"column:title;size:190;not null;uniqueIndex:idx_moims_title"`
	Description string    `gorm:"column:description;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Group) TableName() string {
	return "moims"
}

// Member binds a user to a group. The leader row lives as long as the group does.
type Member struct {
	ID      int64      `gorm:"column:id;primaryKey;autoIncrement"`
	GroupID int64      `gorm:"column:group_id;not null;uniqueIndex:idx_moim_members_group_user,priority:1"`
	UserID  int64      `gorm:"column:user_id;not null;uniqueIndex:idx_moim_members_group_user,priority:2;index:idx_moim_members_user"`
	Leader  bool       `gorm:"column:leader;not null;default:false"`
	Group   Group      `gorm:"foreignKey:GroupID;references:ID;constraint:OnDelete:RESTRICT"`
	User    users.User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:RESTRICT"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "moim_members"
}

// Summary is a group as seen by one viewer.
type Summary struct {
	ID          int64
	Title       string
	Description string
	PeopleCount int
	Leader      bool
	CreatedAt   time.Time
}

// Created describes a freshly created group and the emails of everyone in it.
type Created struct {
	ID          int64
	Title       string
	Description string
	People      []string
}

// MemberView is one entry of a group roster.
type MemberView struct {
	Email  string
	Leader bool
}

// Detail is the full roster view of a group.
type Detail struct {
	ID          int64
	Title       string
	Description string
	Members     []MemberView
	CreatedAt   time.Time
}
