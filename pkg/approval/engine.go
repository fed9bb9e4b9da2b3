package approval

import (
	"context"

	"github.com/jenkins-x/go-scm/scm"
	"github.com/sirupsen/logrus"

	"github.com/peergate/peergate/pkg/audit"
	"github.com/peergate/peergate/pkg/checks"
	"github.com/peergate/peergate/pkg/ledger"
	"github.com/peergate/peergate/pkg/scmprovider"
	"github.com/peergate/peergate/pkg/store"
)

// CheckType is the dispatcher key for the approval engine.
const CheckType = "approval"

// DefaultStatusContext is the status context verdicts are published under
// when none is configured.
const DefaultStatusContext = "peergate/approval"

// Engine computes approve/veto verdicts from tamper resistant comment sets
// and drives the state transitions triggered by webhook actions.
type Engine struct {
	factory       scmprovider.Factory
	ledger        *ledger.Ledger
	changes       store.ChangeStore
	audit         audit.Sink
	statusContext string
}

// NewEngine wires an engine.
func NewEngine(factory scmprovider.Factory, l *ledger.Ledger, changes store.ChangeStore, sink audit.Sink, statusContext string) *Engine {
	if statusContext == "" {
		statusContext = DefaultStatusContext
	}
	return &Engine{
		factory:       factory,
		ledger:        l,
		changes:       changes,
		audit:         sink,
		statusContext: statusContext,
	}
}

// Type returns the check type.
func (e *Engine) Type() string {
	return CheckType
}

// Context returns the status context verdicts are published under.
func (e *Engine) Context() string {
	return e.statusContext
}

// TriggerEvents returns the webhook events this check reacts to.
func (e *Engine) TriggerEvents() []string {
	return []string{checks.EventPullRequest, checks.EventIssueComment, checks.EventPullRequestComment}
}

// Execute runs one full evaluation pass for a webhook delivery.
func (e *Engine) Execute(ctx context.Context, req checks.Request) error {
	p := req.Payload
	log := logrus.WithFields(logrus.Fields{
		"check":  CheckType,
		"org":    p.Repo.Owner,
		"repo":   p.Repo.Name,
		"action": p.Action,
	})
	client, err := e.factory.Create(req.Token)
	if err != nil {
		return err
	}
	switch p.Event {
	case checks.EventPullRequest:
		return e.handlePullRequest(ctx, log, client, req)
	case checks.EventIssueComment, checks.EventPullRequestComment:
		return e.handleComment(ctx, log, client, req)
	}
	return nil
}

func (e *Engine) handlePullRequest(ctx context.Context, log *logrus.Entry, client scmprovider.SCMClient, req checks.Request) error {
	p := req.Payload
	pr := p.PullRequest
	if pr == nil {
		return nil
	}
	switch p.Action {
	case checks.ActionOpened, checks.ActionReopened:
		log.WithField("pr", pr.Number).Info("Evaluating approvals.")
		return e.evaluate(ctx, log, client, req, pr.Number, pr.HeadSHA, pr.Author)
	case checks.ActionSynchronize:
		// the approval window has just reset, so there is nothing to fetch:
		// every prior approval is void
		log.WithField("pr", pr.Number).Info("New push, resetting approval window.")
		if err := e.changes.TouchLastPush(ctx, p.Repo.ID, pr.Number); err != nil {
			return err
		}
		verdict := GenerateStatus(Stats{}, req.Policy, e.statusContext)
		return e.publish(ctx, client, p.Repo, pr.HeadSHA, verdict)
	}
	return nil
}

func (e *Engine) handleComment(ctx context.Context, log *logrus.Entry, client scmprovider.SCMClient, req checks.Request) error {
	p := req.Payload
	switch p.Action {
	case checks.ActionCreated, checks.ActionEdited, checks.ActionDeleted:
	default:
		return nil
	}
	pr, err := client.GetPullRequest(ctx, p.Repo.Owner, p.Repo.Name, p.Number)
	if err != nil {
		return err
	}
	if pr.Closed || pr.Merged {
		log.WithField("pr", p.Number).Debug("Change is not open, ignoring comment.")
		return nil
	}
	if p.Action == checks.ActionEdited || p.Action == checks.ActionDeleted {
		change, err := e.changes.GetChange(ctx, p.Repo.ID, p.Number)
		if err != nil {
			return err
		}
		if err := e.ledger.MaybeFreeze(ctx, p, change); err != nil {
			return err
		}
	}
	return e.evaluate(ctx, log, client, req, p.Number, headSHA(pr), pr.Author.Login)
}

// evaluate is the pending to final flow. Once pending is published, any
// failure is reported as an error verdict so the change is never left
// hanging in pending.
func (e *Engine) evaluate(ctx context.Context, log *logrus.Entry, client scmprovider.SCMClient, req checks.Request, number int, sha, opener string) error {
	repo := req.Payload.Repo
	pending := checks.Verdict{
		State:       checks.StatePending,
		Description: "Counting approvals.",
		Context:     e.statusContext,
	}
	if err := e.publish(ctx, client, repo, sha, pending); err != nil {
		return err
	}
	err := func() error {
		if err := req.Policy.Validate(); err != nil {
			return err
		}
		change, err := e.changes.GetChange(ctx, repo.ID, number)
		if err != nil {
			return err
		}
		ignored, err := e.ignoredUsers(ctx, client, repo, number, opener, req.Policy)
		if err != nil {
			return err
		}
		comments, err := e.ledger.Reconcile(ctx, client, repo, number, change)
		if err != nil {
			return err
		}
		stats, err := e.commentStats(ctx, client, comments, req.Policy, ignored)
		if err != nil {
			return err
		}
		verdict := GenerateStatus(stats, req.Policy, e.statusContext)
		if err := e.publish(ctx, client, repo, sha, verdict); err != nil {
			return err
		}
		return e.audit.Log(ctx, audit.Event{
			RepositoryID: repo.ID,
			ChangeNumber: number,
			CommitSHA:    sha,
			Approvers:    stats.Approvals,
			Vetoed:       len(stats.Vetos) > 0,
			State:        verdict.State,
		})
	}()
	if err != nil {
		log.WithError(err).Error("Evaluation failed, publishing error verdict.")
		errVerdict := checks.Verdict{
			State:       checks.StateError,
			Description: err.Error(),
			Context:     e.statusContext,
		}
		if perr := e.publish(ctx, client, repo, sha, errVerdict); perr != nil {
			log.WithError(perr).Error("Failed to publish error verdict.")
		}
		return err
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, client scmprovider.SCMClient, repo checks.Repository, sha string, v checks.Verdict) error {
	return client.CreateStatus(ctx, repo.Owner, repo.Name, sha, &scm.StatusInput{
		State: scm.ToState(v.State),
		Label: v.Context,
		Desc:  v.Description,
	})
}

func headSHA(pr *scm.PullRequest) string {
	if pr.Head.Sha != "" {
		return pr.Head.Sha
	}
	return pr.Sha
}
