package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jenkins-x/go-scm/scm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/peergate/peergate/pkg/checks"
	"github.com/peergate/peergate/pkg/policy"
	"github.com/peergate/peergate/pkg/scmprovider"
	"github.com/peergate/peergate/pkg/store"
)

// releasedDescription is published when a check is disabled for a repository.
const releasedDescription = "This check is disabled."

// Store is the persistence surface the dispatcher needs.
type Store interface {
	store.ChangeStore
	store.ConfigStore
	store.ExecutionRecorder
}

// Dispatcher routes webhook deliveries to the checks enabled for a
// repository, resolving each check's credential and instrumenting every
// invocation. One check's failure never blocks its siblings.
type Dispatcher struct {
	registry *checks.Registry
	store    Store
	factory  scmprovider.Factory

	// now is swappable for delay metric tests
	now func() time.Time
}

// New creates a dispatcher over an explicit check table.
func New(registry *checks.Registry, st Store, factory scmprovider.Factory) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    st,
		factory:  factory,
		now:      time.Now,
	}
}

// HandleWebhook fans one delivery out to every registered check whose trigger
// event set includes the event and which has a configured credential. Checks
// run concurrently; each publishes to its own status context, so ordering
// between check types is irrelevant. Check failures are recorded and
// swallowed.
func (d *Dispatcher) HandleWebhook(ctx context.Context, payload *checks.Payload) error {
	log := logrus.WithFields(logrus.Fields{
		"org":    payload.Repo.Owner,
		"repo":   payload.Repo.Name,
		"event":  payload.Event,
		"action": payload.Action,
	})
	configs, err := d.store.CheckConfigs(ctx, payload.Repo.ID)
	if err != nil {
		return err
	}
	number := changeNumber(payload)
	var change store.Change
	if number > 0 {
		if err := d.store.CreateChange(ctx, payload.Repo.ID, number); err != nil {
			return err
		}
		change, err = d.store.GetChange(ctx, payload.Repo.ID, number)
		if err != nil {
			return err
		}
	}
	delay := d.delaySince(payload)

	var wg sync.WaitGroup
	for _, check := range d.registry.ForEvent(payload.Event) {
		cfg, enabled := configs[check.Type()]
		if !enabled {
			continue
		}
		pol, err := policy.Parse([]byte(cfg.PolicyYAML))
		if err != nil {
			// broken configuration counts as a failed run of this check and
			// must not block siblings
			d.recordRun(ctx, log, payload.Repo.ID, check.Type(), delay, func() error { return err })
			continue
		}
		req := checks.Request{
			Policy:  pol,
			Payload: payload,
			Token:   cfg.Token,
			Change:  change,
		}
		wg.Add(1)
		go func(check checks.Check) {
			defer wg.Done()
			d.recordRun(ctx, log, payload.Repo.ID, check.Type(), delay, func() error {
				return check.Execute(ctx, req)
			})
		}(check)
	}
	wg.Wait()
	return nil
}

// recordRun instruments one check invocation and swallows its error after
// recording it.
func (d *Dispatcher) recordRun(ctx context.Context, log *logrus.Entry, repoID, checkType string, delay time.Duration, run func() error) {
	if err := d.store.RecordExecutionStart(ctx, repoID, checkType, delay); err != nil {
		log.WithError(err).WithField("check", checkType).Warn("Failed to record execution start.")
	}
	checkDelay.WithLabelValues(checkType).Observe(delay.Seconds())
	start := d.now()
	err := run()
	duration := d.now().Sub(start)
	if rerr := d.store.RecordExecutionEnd(ctx, repoID, checkType, duration, err == nil); rerr != nil {
		log.WithError(rerr).WithField("check", checkType).Warn("Failed to record execution end.")
	}
	checkDuration.WithLabelValues(checkType).Observe(duration.Seconds())
	result := "success"
	if err != nil {
		result = "failure"
		log.WithError(err).WithField("check", checkType).Error("Check failed.")
	}
	checkExecutions.WithLabelValues(checkType, result).Inc()
}

func (d *Dispatcher) delaySince(payload *checks.Payload) time.Duration {
	triggeredAt := TriggeredAt(payload.Raw)
	if triggeredAt.IsZero() {
		return 0
	}
	delay := d.now().Sub(triggeredAt)
	if delay < 0 {
		return 0
	}
	return delay
}

// HandleExistingChanges re-runs the named check against every open change of
// a repository as if each had just been opened, backfilling verdicts when a
// check is newly enabled. Per change failures are collected and do not abort
// the batch.
func (d *Dispatcher) HandleExistingChanges(ctx context.Context, repo checks.Repository, checkType string, pol *policy.Policy, token string) error {
	check := d.registry.Get(checkType)
	if check == nil {
		return errors.Errorf("unknown check type %q", checkType)
	}
	client, err := d.factory.Create(token)
	if err != nil {
		return err
	}
	prs, err := client.ListOpenPullRequests(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"org": repo.Owner, "repo": repo.Name, "check": checkType})
	var merr *multierror.Error
	for _, pr := range prs {
		if err := d.store.CreateChange(ctx, repo.ID, pr.Number); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		change, err := d.store.GetChange(ctx, repo.ID, pr.Number)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		sha := pr.Head.Sha
		if sha == "" {
			sha = pr.Sha
		}
		req := checks.Request{
			Policy: pol,
			Payload: &checks.Payload{
				Event:  checks.EventPullRequest,
				Action: checks.ActionOpened,
				Repo:   repo,
				PullRequest: &checks.PullRequest{
					Number:  pr.Number,
					HeadSHA: sha,
					Author:  pr.Author.Login,
					Open:    !pr.Closed,
				},
				Number: pr.Number,
			},
			Token:  token,
			Change: change,
		}
		if err := check.Execute(ctx, req); err != nil {
			log.WithError(err).WithField("pr", pr.Number).Error("Backfill evaluation failed.")
			merr = multierror.Append(merr, errors.Wrapf(err, "change #%d", pr.Number))
		}
	}
	return merr.ErrorOrNil()
}

// Release publishes a neutral success for the named check on every open
// change of a repository, unblocking changes that were gated by a now
// disabled check. Stored check configuration is untouched.
func (d *Dispatcher) Release(ctx context.Context, repo checks.Repository, checkType, token string) error {
	check := d.registry.Get(checkType)
	if check == nil {
		return errors.Errorf("unknown check type %q", checkType)
	}
	client, err := d.factory.Create(token)
	if err != nil {
		return err
	}
	prs, err := client.ListOpenPullRequests(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}
	var merr *multierror.Error
	for _, pr := range prs {
		sha := pr.Head.Sha
		if sha == "" {
			sha = pr.Sha
		}
		err := client.CreateStatus(ctx, repo.Owner, repo.Name, sha, &scm.StatusInput{
			State: scm.StateSuccess,
			Label: check.Context(),
			Desc:  releasedDescription,
		})
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "change #%d", pr.Number))
		}
	}
	return merr.ErrorOrNil()
}

func changeNumber(payload *checks.Payload) int {
	if payload.PullRequest != nil && payload.PullRequest.Number > 0 {
		return payload.PullRequest.Number
	}
	return payload.Number
}
