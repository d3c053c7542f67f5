package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSingleOwnerIndex     = "2024-06-01_channel_members_single_owner"
	migrationReconcileMemberCount = "2024-06-01_reconcile_channel_member_count"
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
		{name: migrationSingleOwnerIndex, apply: createSingleOwnerIndex},
		{name: migrationReconcileMemberCount, apply: reconcileMemberCounts},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// createSingleOwnerIndex allows at most one owner row per channel.
func createSingleOwnerIndex(db *gorm.DB) error {
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_channel_members_single_owner ON channel_members (channel_id) WHERE role = 'owner'").Error
}

// reconcileMemberCounts rewrites member_count from the membership rows.
func reconcileMemberCounts(db *gorm.DB) error {
	return db.Exec(`UPDATE channels SET member_count = (
		SELECT COUNT(*) FROM channel_members WHERE channel_members.channel_id = channels.channel_id
	) WHERE member_count <> (
		SELECT COUNT(*) FROM channel_members WHERE channel_members.channel_id = channels.channel_id
	)`).Error
}
