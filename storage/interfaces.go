package storage

import (
	"context"
	"time"
)

// AuditWriter persists pipeline results
type AuditWriter interface {
	SaveAudit(ctx context.Context, rec AuditRecord) error
}

// AuditReader queries persisted pipeline results
type AuditReader interface {
	AuditSince(ctx context.Context, since time.Time) ([]AuditRecord, error)
	AuditByActor(ctx context.Context, actorID string, since time.Time) ([]AuditRecord, error)
	RecentByType(ctx context.Context, eventType string, since time.Time, limit int) ([]AuditRecord, error)
	CountByType(ctx context.Context, eventType string, since time.Time) (int, error)
	FindingsByAgent(ctx context.Context, agent string, since time.Time) ([]FindingRecord, error)
	SummaryStats(ctx context.Context, since time.Time) (Stats, error)
}

// WorkflowStore persists versioned workflow documents
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, rec WorkflowRecord) error
	UpdateWorkflow(ctx context.Context, rec WorkflowRecord, expected int64) error
	GetWorkflow(ctx context.Context, id string) (WorkflowRecord, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]WorkflowRecord, error)
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}

var (
	_ AuditWriter   = (*Store)(nil)
	_ AuditReader   = (*Store)(nil)
	_ WorkflowStore = (*Store)(nil)
	_ Lifecycle     = (*Store)(nil)
)
