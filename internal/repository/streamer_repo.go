package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/streamforge/internal/models"
	"gorm.io/gorm"
)

// streamerRepo implements StreamerRepository using GORM. It is the
// write-through target of internal/streamermgr's in-memory cache: every
// mutation persists here first, then updates memory.
type streamerRepo struct {
	db *gorm.DB
}

// NewStreamerRepository creates a new StreamerRepository.
func NewStreamerRepository(db *gorm.DB) *streamerRepo {
	return &streamerRepo{db: db}
}

func (r *streamerRepo) Create(ctx context.Context, streamer *models.Streamer) error {
	if err := r.db.WithContext(ctx).Create(streamer).Error; err != nil {
		return fmt.Errorf("creating streamer: %w", err)
	}
	return nil
}

func (r *streamerRepo) GetByID(ctx context.Context, id models.ULID) (*models.Streamer, error) {
	var streamer models.Streamer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&streamer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting streamer by ID: %w", err)
	}
	return &streamer, nil
}

// GetAll retrieves every streamer; this is the hydrate-on-start load for
// the StreamerManager cache, not used for steady-state queries.
func (r *streamerRepo) GetAll(ctx context.Context) ([]*models.Streamer, error) {
	var streamers []*models.Streamer
	if err := r.db.WithContext(ctx).Find(&streamers).Error; err != nil {
		return nil, fmt.Errorf("getting all streamers: %w", err)
	}
	return streamers, nil
}

func (r *streamerRepo) Update(ctx context.Context, streamer *models.Streamer) error {
	if err := r.db.WithContext(ctx).Save(streamer).Error; err != nil {
		return fmt.Errorf("updating streamer: %w", err)
	}
	return nil
}

func (r *streamerRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Streamer{}).Error; err != nil {
		return fmt.Errorf("deleting streamer: %w", err)
	}
	return nil
}

var _ StreamerRepository = (*streamerRepo)(nil)
