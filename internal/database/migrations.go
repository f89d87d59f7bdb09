package database

import (
	"errors"
	"time"

	"github.com/mark77234/Tomo/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSingleLeaderIndex = "2025-01-01_moim_members_single_leader"
	migrationBackfillInvites   = "2025-01-02_backfill_invite_codes"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSingleLeaderIndex, apply: createSingleLeaderIndex},
		{name: migrationBackfillInvites, apply: backfillInviteCodes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// createSingleLeaderIndex allows at most one leader row per group.
func createSingleLeaderIndex(db *gorm.DB) error {
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_moim_members_single_leader ON moim_members (group_id) WHERE leader = true").Error
}

// backfillInviteCodes derives invite codes for rows imported without one.
func backfillInviteCodes(db *gorm.DB) error {
	var pending []users.User
	if err := db.Where("invite_code = ?", "").Find(&pending).Error; err != nil {
		return err
	}
	for _, user := range pending {
		err := db.Model(&users.User{}).
			Where("id = ?", user.ID).
			Update("invite_code", users.InviteCode(user.ExternalID)).Error
		if err != nil {
			return err
		}
	}
	return nil
}
