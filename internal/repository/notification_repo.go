package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"gorm.io/gorm"
)

// notificationRepo implements NotificationRepository using GORM.
type notificationRepo struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) *notificationRepo {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) CreateChannel(ctx context.Context, channel *models.NotificationChannel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("creating notification channel: %w", err)
	}
	return nil
}

func (r *notificationRepo) GetChannelByID(ctx context.Context, id models.ULID) (*models.NotificationChannel, error) {
	var channel models.NotificationChannel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting notification channel: %w", err)
	}
	return &channel, nil
}

func (r *notificationRepo) GetEnabledChannels(ctx context.Context) ([]*models.NotificationChannel, error) {
	var channels []*models.NotificationChannel
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting enabled notification channels: %w", err)
	}
	return channels, nil
}

func (r *notificationRepo) UpdateChannel(ctx context.Context, channel *models.NotificationChannel) error {
	if err := r.db.WithContext(ctx).Save(channel).Error; err != nil {
		return fmt.Errorf("updating notification channel: %w", err)
	}
	return nil
}

func (r *notificationRepo) DeleteChannel(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.NotificationChannel{}).Error; err != nil {
		return fmt.Errorf("deleting notification channel: %w", err)
	}
	return nil
}

func (r *notificationRepo) CreateDeadLetter(ctx context.Context, dl *models.DeadLetterNotification) error {
	if err := r.db.WithContext(ctx).Create(dl).Error; err != nil {
		return fmt.Errorf("creating dead letter notification: %w", err)
	}
	return nil
}

func (r *notificationRepo) ListDeadLetters(ctx context.Context, offset, limit int) ([]*models.DeadLetterNotification, int64, error) {
	var dls []*models.DeadLetterNotification
	var total int64

	query := r.db.WithContext(ctx).Model(&models.DeadLetterNotification{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting dead letter notifications: %w", err)
	}

	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if err := query.Order("moved_at DESC").Offset(offset).Limit(limit).Find(&dls).Error; err != nil {
		return nil, 0, fmt.Errorf("listing dead letter notifications: %w", err)
	}
	return dls, total, nil
}

func (r *notificationRepo) DeleteDeadLettersBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("moved_at < ?", before).Delete(&models.DeadLetterNotification{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting dead letter notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ NotificationRepository = (*notificationRepo)(nil)
