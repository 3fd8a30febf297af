package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrJobTypeRequired indicates a job was created without a type.
	ErrJobTypeRequired = errors.New("job_type is required")

	// ErrPipelineIDRequired indicates a job is missing its pipeline id.
	ErrPipelineIDRequired = errors.New("pipeline_id is required")

	// ErrStepIDRequired indicates a DAG step execution is missing its step id.
	ErrStepIDRequired = errors.New("step_id is required")

	// ErrDagIDRequired indicates a DAG step execution is missing its dag id.
	ErrDagIDRequired = errors.New("dag_id is required")

	// ErrPlatformKindRequired indicates a platform config is missing its kind.
	ErrPlatformKindRequired = errors.New("platform kind is required")

	// ErrInvalidPlatformKind indicates an unrecognized platform kind.
	ErrInvalidPlatformKind = errors.New("invalid platform kind")

	// ErrInvalidNotificationChannelKind indicates an unrecognized notification channel kind.
	ErrInvalidNotificationChannelKind = errors.New("invalid notification channel kind")

	// ErrChannelIDRequired indicates a dead-letter notification is missing its channel id.
	ErrChannelIDRequired = errors.New("channel_id is required")
)
