package storage

import (
	"context"
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the only backend)
//
// If Driver is empty, "sqlite" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// PlanRecord is a persisted schedule plan. The full plan document is kept as
// JSON; label and created_at are lifted out for listing and activation math.
type PlanRecord struct {
	Guid      string
	Label     string
	PlanJSON  []byte
	CreatedAt time.Time
}

// ActivityRecord is one persisted task instance.
//
// Guid is deterministic over (user, plan, task, scheduledOn), which is also a
// unique key in the table: concurrent expansion of the same occurrence
// collapses to a single row. Seq is the monotonic creation-order key used for
// cursor paging.
type ActivityRecord struct {
	Seq         int64
	Guid        string
	User        string
	PlanGuid    string
	TaskID      string
	Label       string
	ActivityJSON []byte
	ScheduledOn time.Time
	ExpiresOn   *time.Time
	StartedOn   *time.Time
	FinishedOn  *time.Time
}

// ActivityFilter narrows ListActivities.
//
// ActiveOnly excludes finished instances and instances expired relative to
// Now. AfterKey/AfterSeq resume a page after the given (scheduledOn, seq)
// position; Limit 0 means no limit.
type ActivityFilter struct {
	ActiveOnly bool
	Now        time.Time
	PlanGuid   string
	AfterKey   int64 // scheduledOn, unix ms
	AfterSeq   int64
	Limit      int
}

// DocRecord is one flat documentation record, keyed by identifier and grouped
// by an optional parent.
type DocRecord struct {
	Seq           int64
	Identifier    string
	ParentID      string
	Title         string
	Documentation string
	ModifiedAt    time.Time
}

// Stats is a coarse row-count snapshot used by the janitor.
type Stats struct {
	Plans      int64
	Activities int64
	Docs       int64
}

// Store is the persistence API used by the services.
//
// All methods surface failures as apperr errors: KindNotFound for missing
// rows, KindStorage for backend faults. Bulk deletes are transactional
// (all-or-nothing per call).
type Store interface {
	PutPlan(ctx context.Context, p PlanRecord) error
	GetPlan(ctx context.Context, guid string) (PlanRecord, error)
	ListPlans(ctx context.Context) ([]PlanRecord, error)
	// DeletePlan removes the plan and its non-terminal instances in one
	// transaction. Finished and expired instances survive as history.
	DeletePlan(ctx context.Context, guid string, now time.Time) error

	// UpsertActivity inserts the record or, when the occurrence key already
	// exists, refreshes its soft fields (label, activity document, expiry)
	// while preserving identity and lifecycle timestamps. The canonical row
	// is returned either way.
	UpsertActivity(ctx context.Context, rec ActivityRecord) (ActivityRecord, error)
	GetActivity(ctx context.Context, guid string) (ActivityRecord, error)
	ListActivities(ctx context.Context, user string, f ActivityFilter) ([]ActivityRecord, error)
	SetActivityTimes(ctx context.Context, guid string, startedOn, finishedOn *time.Time) error
	DeleteActivitiesForPlan(ctx context.Context, planGuid string) (int64, error)
	DeleteActivitiesForUser(ctx context.Context, user string) (int64, error)

	PutDoc(ctx context.Context, d DocRecord) error
	GetDoc(ctx context.Context, identifier string) (DocRecord, error)
	ListDocs(ctx context.Context, parentID string, afterSeq int64, limit int) ([]DocRecord, error)
	DeleteDoc(ctx context.Context, identifier string) error
	DeleteDocsForParent(ctx context.Context, parentID string) (int64, error)

	Stats(ctx context.Context) (Stats, error)
	// Maintenance runs a WAL checkpoint and PRAGMA optimize.
	Maintenance(ctx context.Context) error
	Close() error
}
