package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = observability.Tracer("streamforge/repository")

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db     *gorm.DB
	driver string // "sqlite", "postgres", or "mysql"
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	driver := ""
	if db.Dialector != nil {
		driver = db.Dialector.Name()
	}
	return &jobRepo{db: db, driver: driver}
}

func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

func (r *jobRepo) GetByPipelineID(ctx context.Context, pipelineID models.ULID) ([]*models.Job, error) {
	var jobs []*models.Job
	if err := r.db.WithContext(ctx).Where("pipeline_id = ?", pipelineID).Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting jobs by pipeline ID: %w", err)
	}
	return jobs, nil
}

func (r *jobRepo) List(ctx context.Context, status *models.JobStatus, offset, limit int) ([]*models.Job, int64, error) {
	var jobs []*models.Job
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Job{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	if limit <= 0 || limit > 100 {
		limit = 100
	}

	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

func (r *jobRepo) Update(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

func (r *jobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

func (r *jobRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?) AND completed_at < ?",
			models.JobStatusCompleted, models.JobStatusFailed, before).
		Delete(&models.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting terminal jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ClaimNextPending implements the two-step claim:
// select a candidate by (priority DESC, created_at ASC), then a conditional
// UPDATE that only succeeds if the row is still Pending. Retries up to 3
// times if a concurrent worker wins the race first.
func (r *jobRepo) ClaimNextPending(ctx context.Context, workerID string, jobTypes []string) (*models.Job, error) {
	ctx, span := tracer.Start(ctx, "job_repo.claim_next_pending",
		trace.WithAttributes(attribute.StringSlice("job_types", jobTypes), attribute.String("driver", r.driver)))
	defer span.End()

	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		job, err := r.claimAttempt(ctx, workerID, jobTypes)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		// job == nil, err == nil: either nothing pending, or we lost the
		// race on the candidate we picked. Loop to re-select; the caller's
		// retry budget is bounded by maxAttempts, not an infinite spin.
		var remaining int64
		countErr := r.db.WithContext(ctx).Model(&models.Job{}).
			Where("status = ? AND job_type IN ?", models.JobStatusPending, jobTypes).
			Count(&remaining).Error
		if countErr == nil && remaining == 0 {
			return nil, nil
		}
	}
	return nil, nil
}

func (r *jobRepo) claimAttempt(ctx context.Context, workerID string, jobTypes []string) (*models.Job, error) {
	if r.driver == "sqlite" {
		return r.claimSQLite(ctx, workerID, jobTypes)
	}
	return r.claimWithRowLocking(ctx, workerID, jobTypes)
}

// claimWithRowLocking uses SELECT ... FOR UPDATE SKIP LOCKED, available on
// PostgreSQL and MySQL, to pick and lock a candidate before updating it.
func (r *jobRepo) claimWithRowLocking(ctx context.Context, workerID string, jobTypes []string) (*models.Job, error) {
	var job models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND job_type IN ?", models.JobStatusPending, jobTypes).
			Order("priority DESC, created_at ASC").
			Limit(1)

		if err := query.First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return err
			}
			return fmt.Errorf("selecting candidate job: %w", err)
		}

		job.MarkProcessing(workerID)
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("claiming job: %w", err)
		}
		return nil
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// claimSQLite claims a job with a single atomic UPDATE ... WHERE id =
// (subquery), since SQLite has no row-locking equivalent to SKIP LOCKED;
// its write serialization guarantees only one concurrent UPDATE wins.
func (r *jobRepo) claimSQLite(ctx context.Context, workerID string, jobTypes []string) (*models.Job, error) {
	subQuery := r.db.Model(&models.Job{}).
		Select("id").
		Where("status = ? AND job_type IN ?", models.JobStatusPending, jobTypes).
		Order("priority DESC, created_at ASC").
		Limit(1)

	now := models.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = (?) AND status = ?", subQuery, models.JobStatusPending).
		UpdateColumns(map[string]any{
			"status":     models.JobStatusProcessing,
			"started_at": now,
			"locked_by":  workerID,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("claiming job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var job models.Job
	if err := r.db.WithContext(ctx).
		Where("locked_by = ? AND status = ?", workerID, models.JobStatusProcessing).
		Order("started_at DESC").
		First(&job).Error; err != nil {
		return nil, fmt.Errorf("fetching claimed job: %w", err)
	}
	return &job, nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, id models.ULID, errMsg string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusProcessing).
		UpdateColumns(map[string]any{
			"status":       models.JobStatusFailed,
			"error":        errMsg,
			"completed_at": models.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("marking job failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *jobRepo) MarkInterrupted(ctx context.Context, id models.ULID, reason string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusProcessing).
		UpdateColumns(map[string]any{
			"status":       models.JobStatusInterrupted,
			"error":        reason,
			"completed_at": models.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("marking job interrupted: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *jobRepo) ResetForRetry(ctx context.Context, id models.ULID) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN (?, ?)", id, models.JobStatusFailed, models.JobStatusInterrupted).
		UpdateColumns(map[string]any{
			"status":       models.JobStatusPending,
			"started_at":   nil,
			"completed_at": nil,
			"locked_by":    "",
			"retry_count":  gorm.Expr("retry_count + 1"),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("resetting job for retry: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *jobRepo) UpdateIfStatus(ctx context.Context, job *models.Job, expected models.JobStatus) (int64, error) {
	// Model(job), not an empty Job, so the BeforeUpdate hook validates job.
	result := r.db.WithContext(ctx).Model(job).
		Where("id = ? AND status = ?", job.ID, expected).
		Updates(job)
	if result.Error != nil {
		return 0, fmt.Errorf("updating job conditionally: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreatePipelineStep completes the current job and creates the next one in
// the chain within a single transaction, so a crash between the two writes
// cannot leave the chain half-advanced.
func (r *jobRepo) CreatePipelineStep(ctx context.Context, completed *models.Job, outputs models.StringList, next *models.Job) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completed.MarkCompleted(outputs)
		if err := tx.Save(completed).Error; err != nil {
			return fmt.Errorf("completing pipeline step: %w", err)
		}

		next.PipelineID = completed.PipelineID
		next.Input = outputs
		if next.StreamerID == nil {
			next.StreamerID = completed.StreamerID
		}
		if next.SessionID == nil {
			next.SessionID = completed.SessionID
		}
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("creating next pipeline step: %w", err)
		}
		return nil
	})
}

func (r *jobRepo) AppendExecutionLog(ctx context.Context, entry *models.JobExecutionLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending job execution log: %w", err)
	}
	return nil
}

func (r *jobRepo) GetExecutionLogs(ctx context.Context, jobID models.ULID, offset, limit int) ([]*models.JobExecutionLog, error) {
	var logs []*models.JobExecutionLog
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("timestamp ASC").
		Offset(offset).Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("getting job execution logs: %w", err)
	}
	return logs, nil
}

func (r *jobRepo) UpsertExecutionProgress(ctx context.Context, progress *models.JobExecutionProgress) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"current", "total", "message", "updated_at"}),
		}).
		Create(progress).Error
	if err != nil {
		return fmt.Errorf("upserting job execution progress: %w", err)
	}
	return nil
}

func (r *jobRepo) GetExecutionProgress(ctx context.Context, jobID models.ULID) (*models.JobExecutionProgress, error) {
	var progress models.JobExecutionProgress
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&progress).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job execution progress: %w", err)
	}
	return &progress, nil
}

func (r *jobRepo) DeleteExecutionLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("job_id IN (?)",
			r.db.Model(&models.Job{}).
				Select("id").
				Where("status IN (?, ?) AND completed_at < ?", models.JobStatusCompleted, models.JobStatusFailed, before),
		).
		Delete(&models.JobExecutionLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting job execution logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure jobRepo implements JobRepository at compile time.
var _ JobRepository = (*jobRepo)(nil)
