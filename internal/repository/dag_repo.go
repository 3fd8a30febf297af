package repository

import (
	"fmt"

	"context"

	"github.com/jmylchreest/streamforge/internal/models"
	"gorm.io/gorm"
)

// dagStepRepo implements DagStepRepository using GORM.
type dagStepRepo struct {
	db *gorm.DB
}

// NewDagStepRepository creates a new DagStepRepository.
func NewDagStepRepository(db *gorm.DB) *dagStepRepo {
	return &dagStepRepo{db: db}
}

func (r *dagStepRepo) CreateSteps(ctx context.Context, steps []*models.DagStepExecution) error {
	if len(steps) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, step := range steps {
			if len(step.DependsOnStepIDs) == 0 {
				step.Status = models.DagStepStatusPending
			} else {
				step.Status = models.DagStepStatusBlocked
			}
			if err := tx.Create(step).Error; err != nil {
				return fmt.Errorf("creating dag step %s: %w", step.StepID, err)
			}
		}
		return nil
	})
}

func (r *dagStepRepo) GetByID(ctx context.Context, id models.ULID) (*models.DagStepExecution, error) {
	var step models.DagStepExecution
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&step).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting dag step: %w", err)
	}
	return &step, nil
}

func (r *dagStepRepo) GetByDagID(ctx context.Context, dagID models.ULID) ([]*models.DagStepExecution, error) {
	var steps []*models.DagStepExecution
	if err := r.db.WithContext(ctx).Where("dag_id = ?", dagID).Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("getting dag steps: %w", err)
	}
	return steps, nil
}

func (r *dagStepRepo) AttachJob(ctx context.Context, stepID models.ULID, jobID models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.DagStepExecution{}).
		Where("id = ?", stepID).
		UpdateColumns(map[string]any{
			"job_id": jobID,
			"status": models.DagStepStatusProcessing,
		})
	if result.Error != nil {
		return fmt.Errorf("attaching job to dag step: %w", result.Error)
	}
	return nil
}

// CompleteStepAndCheckDependents implements the
// complete_step_and_check_dependents: mark the step Completed, then load
// every currently-Blocked step in the same DAG that lists this step as a
// dependency, and for each, check (from one snapshot read within the
// transaction) whether all of its dependencies are now Completed. Steps
// that qualify move to Pending; their merged inputs are computed by the
// executor when it dispatches them (see the note in the loop below).
func (r *dagStepRepo) CompleteStepAndCheckDependents(ctx context.Context, stepID models.ULID, outputs models.StringList) ([]models.ULID, bool, error) {
	var promoted []models.ULID
	var dagCompleted bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var step models.DagStepExecution
		if err := tx.Where("id = ?", stepID).First(&step).Error; err != nil {
			return fmt.Errorf("loading step: %w", err)
		}
		step.Status = models.DagStepStatusCompleted
		step.Outputs = outputs
		if err := tx.Save(&step).Error; err != nil {
			return fmt.Errorf("completing step: %w", err)
		}

		var all []models.DagStepExecution
		if err := tx.Where("dag_id = ?", step.DagID).Find(&all).Error; err != nil {
			return fmt.Errorf("loading dag snapshot: %w", err)
		}

		statusByStepID := make(map[string]models.DagStepStatus, len(all))
		for _, s := range all {
			statusByStepID[s.StepID] = s.Status
		}

		for i := range all {
			dependent := &all[i]
			if dependent.Status != models.DagStepStatusBlocked {
				continue
			}
			if !dependent.DependsOnStepIDs.Contains(step.StepID) {
				continue
			}

			allCompleted := true
			for _, dep := range dependent.DependsOnStepIDs {
				if statusByStepID[dep] != models.DagStepStatusCompleted {
					allCompleted = false
					break
				}
			}
			if !allCompleted {
				continue
			}

			dependent.Status = models.DagStepStatusPending
			dependent.Outputs = nil
			if err := tx.Model(&models.DagStepExecution{}).Where("id = ?", dependent.ID).
				UpdateColumns(map[string]any{"status": models.DagStepStatusPending}).Error; err != nil {
				return fmt.Errorf("promoting dependent step %s: %w", dependent.StepID, err)
			}
			promoted = append(promoted, dependent.ID)
			statusByStepID[dependent.StepID] = models.DagStepStatusPending
			// merged inputs (dependency outputs, in dependency order, de-duplicated)
			// are computed by the job core from this same dependency snapshot when
			// it dispatches the promoted step's job; see
			// Executor.mergedDependencyOutputs.
		}

		completed, failed := 0, 0
		for _, s := range all {
			switch s.StepID {
			case step.StepID:
				completed++
			default:
				switch statusByStepID[s.StepID] {
				case models.DagStepStatusCompleted:
					completed++
				case models.DagStepStatusFailed, models.DagStepStatusCancelled:
					failed++
				}
			}
		}
		if completed+failed >= len(all) {
			dagCompleted = failed == 0
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return promoted, dagCompleted, nil
}

// FailDagAndCancelSteps implements fail_dag_and_cancel_steps:
// collect the job ids of every step still Processing (the caller cancels
// those jobs out-of-band), mark every Blocked/Pending step Cancelled, and
// mark the failing step Failed, all within one transaction.
func (r *dagStepRepo) FailDagAndCancelSteps(ctx context.Context, dagID models.ULID, failedStepID models.ULID, errMsg string) ([]models.ULID, error) {
	var processingJobIDs []models.ULID

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var steps []models.DagStepExecution
		if err := tx.Where("dag_id = ?", dagID).Find(&steps).Error; err != nil {
			return fmt.Errorf("loading dag steps: %w", err)
		}

		for _, s := range steps {
			switch {
			case s.ID == failedStepID:
				if s.Status == models.DagStepStatusProcessing && s.JobID != nil {
					processingJobIDs = append(processingJobIDs, *s.JobID)
				}
				if err := tx.Model(&models.DagStepExecution{}).Where("id = ?", s.ID).
					UpdateColumns(map[string]any{"status": models.DagStepStatusFailed}).Error; err != nil {
					return fmt.Errorf("marking failed step: %w", err)
				}
			case s.Status == models.DagStepStatusProcessing:
				if s.JobID != nil {
					processingJobIDs = append(processingJobIDs, *s.JobID)
				}
			case s.Status == models.DagStepStatusBlocked, s.Status == models.DagStepStatusPending:
				if err := tx.Model(&models.DagStepExecution{}).Where("id = ?", s.ID).
					UpdateColumns(map[string]any{"status": models.DagStepStatusCancelled}).Error; err != nil {
					return fmt.Errorf("cancelling step %s: %w", s.StepID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = errMsg // surfaced by the caller via notification/logging, not stored on the step rows
	return processingJobIDs, nil
}

var _ DagStepRepository = (*dagStepRepo)(nil)
