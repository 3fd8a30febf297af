// Package migrations provides database migration management for the
// pipeline core.
package migrations

import (
	"github.com/jmylchreest/streamforge/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002DefaultPlatforms(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				// Platform and streamer registry
				&models.PlatformConfig{},
				&models.Streamer{},

				// Job core and DAG execution
				&models.Job{},
				&models.DagStepExecution{},
				&models.JobExecutionLog{},
				&models.JobExecutionProgress{},

				// Notification dispatch
				&models.NotificationChannel{},
				&models.DeadLetterNotification{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"dead_letter_notifications",
				"notification_channels",
				"job_execution_progress",
				"job_execution_logs",
				"dag_step_executions",
				"jobs",
				"streamers",
				"platform_configs",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002DefaultPlatforms seeds the built-in platform configs so a
// fresh install has somewhere to attach streamers without an admin first
// round-tripping through the REST surface.
func migration002DefaultPlatforms() Migration {
	return Migration{
		Version:     "002",
		Description: "Seed default platform configs",
		Up: func(tx *gorm.DB) error {
			defaults := []models.PlatformConfig{
				{
					Name:                        "Twitch",
					Kind:                        models.PlatformKindTwitch,
					SupportsBatchCheck:          true,
					MaxBatchSize:                100,
					BatchWindowMs:               500,
					RequiresTwitchPreprocessing: true,
					BaseCheckIntervalMs:         60000,
					OfflineCheckCount:           2,
					ErrorThreshold:              5,
					APIBaseURL:                  "https://api.twitch.tv/helix",
				},
				{
					Name:                "Generic HLS",
					Kind:                models.PlatformKindGenericHLS,
					SupportsBatchCheck:  false,
					BaseCheckIntervalMs: 30000,
					OfflineCheckCount:   2,
					ErrorThreshold:      5,
				},
			}
			for i := range defaults {
				if err := tx.Create(&defaults[i]).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			return tx.Where("name IN ?", []string{"Twitch", "Generic HLS"}).Delete(&models.PlatformConfig{}).Error
		},
	}
}
