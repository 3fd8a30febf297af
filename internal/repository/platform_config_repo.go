package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/streamforge/internal/models"
	"gorm.io/gorm"
)

// platformConfigRepo implements PlatformConfigRepository using GORM.
type platformConfigRepo struct {
	db *gorm.DB
}

// NewPlatformConfigRepository creates a new PlatformConfigRepository.
func NewPlatformConfigRepository(db *gorm.DB) *platformConfigRepo {
	return &platformConfigRepo{db: db}
}

func (r *platformConfigRepo) Create(ctx context.Context, config *models.PlatformConfig) error {
	if err := r.db.WithContext(ctx).Create(config).Error; err != nil {
		return fmt.Errorf("creating platform config: %w", err)
	}
	return nil
}

func (r *platformConfigRepo) GetByID(ctx context.Context, id models.ULID) (*models.PlatformConfig, error) {
	var config models.PlatformConfig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&config).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting platform config: %w", err)
	}
	return &config, nil
}

func (r *platformConfigRepo) GetAll(ctx context.Context) ([]*models.PlatformConfig, error) {
	var configs []*models.PlatformConfig
	if err := r.db.WithContext(ctx).Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("getting all platform configs: %w", err)
	}
	return configs, nil
}

func (r *platformConfigRepo) Update(ctx context.Context, config *models.PlatformConfig) error {
	if err := r.db.WithContext(ctx).Save(config).Error; err != nil {
		return fmt.Errorf("updating platform config: %w", err)
	}
	return nil
}

func (r *platformConfigRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PlatformConfig{}).Error; err != nil {
		return fmt.Errorf("deleting platform config: %w", err)
	}
	return nil
}

var _ PlatformConfigRepository = (*platformConfigRepo)(nil)
