package checks

import (
	"context"
	"time"

	"github.com/peergate/peergate/pkg/policy"
	"github.com/peergate/peergate/pkg/store"
)

// Verdict states published to the commit status API.
const (
	StatePending = "pending"
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
)

// Verdict is the outcome of one check run for one change.
type Verdict struct {
	State       string
	Description string
	Context     string
}

// Webhook event types routed by the dispatcher.
const (
	EventPullRequest        = "pull_request"
	EventIssueComment       = "issue_comment"
	EventPullRequestComment = "pull_request_comment"
)

// Webhook actions the approval flow reacts to.
const (
	ActionOpened      = "opened"
	ActionReopened    = "reopened"
	ActionSynchronize = "synchronize"
	ActionCreated     = "created"
	ActionEdited      = "edited"
	ActionDeleted     = "deleted"
)

// Repository identifies the repository a webhook belongs to.
type Repository struct {
	ID    string
	Owner string
	Name  string
}

// FullName returns the owner/name form used by the source control API.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// PullRequest is the slice of pull request data the checks need.
type PullRequest struct {
	Number  int
	HeadSHA string
	Author  string
	Open    bool
}

// Comment carries a webhook comment, including the pre-edit body when the
// provider supplies one under changes.body.from.
type Comment struct {
	ID           int
	Author       string
	Body         string
	CreatedAt    time.Time
	PreviousBody string
}

// Payload is the typed view of one webhook delivery. Raw keeps the original
// JSON body for best-effort timestamp extraction; checks never base verdict
// logic on it.
type Payload struct {
	Event       string
	Action      string
	Repo        Repository
	PullRequest *PullRequest
	Number      int
	Comment     *Comment
	Sender      string
	Raw         []byte
}

// Request is one check invocation prepared by the dispatcher.
type Request struct {
	Policy  *policy.Policy
	Payload *Payload
	Token   string
	Change  store.Change
}

// Check is a single gate evaluated against a change. Implementations publish
// their verdicts under their own status context.
type Check interface {
	Type() string
	Context() string
	TriggerEvents() []string
	Execute(ctx context.Context, req Request) error
}

// Registry is the explicit check table built at startup and injected into the
// dispatcher.
type Registry struct {
	checks []Check
}

// NewRegistry creates a registry over the given checks.
func NewRegistry(checks ...Check) *Registry {
	return &Registry{checks: checks}
}

// All returns every registered check.
func (r *Registry) All() []Check {
	return r.checks
}

// Get returns the check with the given type, or nil.
func (r *Registry) Get(checkType string) Check {
	for _, c := range r.checks {
		if c.Type() == checkType {
			return c
		}
	}
	return nil
}

// ForEvent returns the checks whose trigger event set includes event.
func (r *Registry) ForEvent(event string) []Check {
	var matched []Check
	for _, c := range r.checks {
		for _, e := range c.TriggerEvents() {
			if e == event {
				matched = append(matched, c)
				break
			}
		}
	}
	return matched
}
