package store

import (
	"context"
	"time"
)

// Change is the tracked state of one pull request. Approval evidence created
// before LastPush is void.
type Change struct {
	ID       string
	RepoID   string
	Number   int
	LastPush time.Time
}

// FrozenComment is an immutable snapshot of a comment's content, captured the
// first time third party tampering is detected. It is never updated.
type FrozenComment struct {
	ID        int       `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	ChangeID  string    `json:"changeId"`
}

// CheckConfig is the persisted configuration for one check type on one
// repository: the credential used to act on its behalf plus the raw policy.
type CheckConfig struct {
	Token      string `json:"token"`
	PolicyYAML string `json:"policy,omitempty"`
}

// ExecutionRecord is one row per (repository, check type), overwritten on
// every run. Observability only.
type ExecutionRecord struct {
	RepoID          string
	CheckType       string
	LastExecutionAt time.Time
	Delay           time.Duration
	Duration        time.Duration
	Successful      bool
}

// ChangeStore tracks pull requests and their approval windows.
type ChangeStore interface {
	CreateChange(ctx context.Context, repoID string, number int) error
	GetChange(ctx context.Context, repoID string, number int) (Change, error)
	TouchLastPush(ctx context.Context, repoID string, number int) error
}

// FrozenStore persists tamper snapshots. AddFrozenComment is idempotent per
// comment id: the first snapshot wins, later writes are ignored.
type FrozenStore interface {
	AddFrozenComment(ctx context.Context, changeID string, comment FrozenComment) error
	FrozenComments(ctx context.Context, changeID string, since time.Time) ([]FrozenComment, error)
}

// ConfigStore holds the per-repository check configuration the dispatcher
// derives its credential map from.
type ConfigStore interface {
	CheckConfigs(ctx context.Context, repoID string) (map[string]CheckConfig, error)
	SetCheckConfig(ctx context.Context, repoID, checkType string, cfg CheckConfig) error
	DeleteCheckConfig(ctx context.Context, repoID, checkType string) error
}

// ExecutionRecorder instruments check runs.
type ExecutionRecorder interface {
	RecordExecutionStart(ctx context.Context, repoID, checkType string, delay time.Duration) error
	RecordExecutionEnd(ctx context.Context, repoID, checkType string, duration time.Duration, successful bool) error
}
