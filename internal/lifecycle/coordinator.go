package lifecycle

import (
	"context"
	"errors"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/appointments"
	"github.com/mark77234/Tomo/internal/friends"
	"github.com/mark77234/Tomo/internal/groups"
	"github.com/mark77234/Tomo/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCoordinatorNew   = "lifecycle.coordinator.new"
	opDeleteUser       = "lifecycle.delete_user"
	opDeleteGroup      = "lifecycle.delete_group"
	reasonNotLeader    = "requester_not_leader"
	reasonDeleteFailed = "delete_failed"
)

var errMissingDatabase = errors.New("lifecycle: database connection required")

// CoordinatorConfig describes the dependencies of the cascade coordinator.
type CoordinatorConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Coordinator applies the cascades that span users, friends, groups and appointments.
type Coordinator struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCoordinator constructs the lifecycle coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindInternal, opCoordinatorNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{db: cfg.Database, logger: logger}, nil
}

// DeleteUser removes the account and everything hanging off it in one transaction:
// groups it leads (with their rosters and appointments), its other memberships,
// its friend edges in both directions and finally the user row.
func (c *Coordinator) DeleteUser(ctx context.Context, externalID string) error {
	var (
		userID    int64
		ledGroups int
	)
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := users.FindByExternalID(tx, externalID)
		if err != nil {
			return err
		}
		userID = user.ID

		led, err := groups.LeaderGroupIDs(tx, user.ID)
		if err != nil {
			return err
		}
		ledGroups = len(led)
		if err := removeGroups(tx, led); err != nil {
			return err
		}
		if err := groups.LeaveNonLeaderGroups(tx, user.ID); err != nil {
			return err
		}
		if err := friends.DeleteAllFor(tx, user.ID); err != nil {
			return err
		}
		if err := tx.Where("id = ?", user.ID).Delete(&users.User{}).Error; err != nil {
			return apperr.FromStore(opDeleteUser, reasonDeleteFailed, err)
		}
		return nil
	})
	if err != nil {
		c.logFailure(opDeleteUser, err, zap.String("external_id", externalID))
		return err
	}
	c.logger.Info("user deleted",
		zap.Int64("user_id", userID),
		zap.Int("led_groups_removed", ledGroups))
	return nil
}

// DeleteGroup removes a group on behalf of its leader.
func (c *Coordinator) DeleteGroup(ctx context.Context, groupID int64, requesterExternalID string) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := groups.FindByID(tx, groupID)
		if err != nil {
			return err
		}
		requester, err := users.FindByExternalID(tx, requesterExternalID)
		if err != nil {
			return err
		}
		leader, err := groups.IsLeader(tx, group.ID, requester.ID)
		if err != nil {
			return err
		}
		if !leader {
			return apperr.New(apperr.KindNotLeader, opDeleteGroup, reasonNotLeader, nil)
		}
		return removeGroups(tx, []int64{group.ID})
	})
	if err != nil {
		c.logFailure(opDeleteGroup, err, zap.Int64("group_id", groupID))
		return err
	}
	c.logger.Info("group deleted", zap.Int64("group_id", groupID))
	return nil
}

// removeGroups deletes rosters before appointments before the group rows.
func removeGroups(tx *gorm.DB, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	if err := groups.DeleteMembers(tx, groupIDs); err != nil {
		return err
	}
	if err := appointments.DeleteForGroups(tx, groupIDs); err != nil {
		return err
	}
	return groups.DeleteGroups(tx, groupIDs)
}

// logFailure records unexpected failures; domain rejections are the caller's business.
func (c *Coordinator) logFailure(operation string, err error, fields ...zap.Field) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindNotLeader, apperr.KindUnauthorized:
		return
	}
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("code", apperr.CodeOf(err)),
		zap.Error(err),
	}, fields...)
	c.logger.Error("lifecycle cascade failed", attrs...)
}
