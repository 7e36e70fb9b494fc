package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrInvalidRecord   = errors.New("invalid record")
	ErrNotFound        = errors.New("not found")
	ErrExists          = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// validateAuditRecord validates an AuditRecord before storage
func validateAuditRecord(r AuditRecord) error {
	if r.EventID == "" {
		return fmt.Errorf("%w: audit record event_id cannot be empty", ErrInvalidRecord)
	}
	if r.EventType == "" {
		return fmt.Errorf("%w: audit record event_type cannot be empty", ErrInvalidRecord)
	}
	if r.RiskScore < 0.0 || r.RiskScore > 1.0 {
		return fmt.Errorf("%w: audit record risk_score must be between 0.0 and 1.0, got %f", ErrInvalidRecord, r.RiskScore)
	}
	for i, f := range r.Findings {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: finding %d: %v", ErrInvalidRecord, i, err)
		}
	}
	return nil
}

// validateWorkflowRecord validates a WorkflowRecord before storage
func validateWorkflowRecord(r WorkflowRecord) error {
	if r.ID == "" {
		return fmt.Errorf("%w: workflow id cannot be empty", ErrInvalidRecord)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: workflow type cannot be empty", ErrInvalidRecord)
	}
	if r.Status == "" {
		return fmt.Errorf("%w: workflow status cannot be empty", ErrInvalidRecord)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: workflow data cannot be empty", ErrInvalidRecord)
	}
	return nil
}
