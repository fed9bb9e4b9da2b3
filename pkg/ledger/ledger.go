package ledger

import (
	"context"
	"time"

	"github.com/jenkins-x/go-scm/scm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/peergate/peergate/pkg/checks"
	"github.com/peergate/peergate/pkg/store"
)

// CommentLister is the slice of the source control client the ledger reads
// live comments through.
type CommentLister interface {
	ListCommentsSince(ctx context.Context, owner, repo string, number int, since time.Time) ([]*scm.Comment, error)
}

// Ledger reconciles the mutable live comment stream of a change with the
// immutable snapshots frozen when tampering was detected. For any comment id
// that has ever been frozen, the frozen content wins; live content is only
// trusted for ids that were never frozen.
type Ledger struct {
	frozen store.FrozenStore
}

// New creates a ledger over the given snapshot store.
func New(frozen store.FrozenStore) *Ledger {
	return &Ledger{frozen: frozen}
}

// Reconcile returns the trustworthy comment set for a change, scoped to
// comments created at or after the change's last push. Frozen snapshots
// replace their live counterparts and are included even when the live comment
// was deleted. Any fetch failure is fatal: falling back to live-only data
// would defeat the integrity guarantee.
func (l *Ledger) Reconcile(ctx context.Context, client CommentLister, repo checks.Repository, number int, change store.Change) ([]checks.Comment, error) {
	live, err := client.ListCommentsSince(ctx, repo.Owner, repo.Name, number, change.LastPush)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list live comments for %s#%d", repo.FullName(), number)
	}
	frozen, err := l.frozen.FrozenComments(ctx, change.ID, change.LastPush)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load frozen comments for %s#%d", repo.FullName(), number)
	}
	merged := make(map[int]checks.Comment, len(live)+len(frozen))
	var order []int
	for _, c := range live {
		merged[c.ID] = checks.Comment{
			ID:        c.ID,
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.Created,
		}
		order = append(order, c.ID)
	}
	for _, f := range frozen {
		if _, seen := merged[f.ID]; !seen {
			order = append(order, f.ID)
		}
		merged[f.ID] = checks.Comment{
			ID:        f.ID,
			Author:    f.Author,
			Body:      f.Body,
			CreatedAt: f.CreatedAt,
		}
	}
	comments := make([]checks.Comment, 0, len(order))
	for _, id := range order {
		comments = append(comments, merged[id])
	}
	return comments, nil
}

// MaybeFreeze captures a tamper snapshot for an edit or delete event. An
// author changing their own comment is self-correction and never freezes.
// Freezing is idempotent per comment id: the snapshot anchored to the first
// detected tampering is the one that counts.
func (l *Ledger) MaybeFreeze(ctx context.Context, payload *checks.Payload, change store.Change) error {
	comment := payload.Comment
	if comment == nil {
		return nil
	}
	switch payload.Action {
	case checks.ActionEdited, checks.ActionDeleted:
	default:
		// nothing precedes a created comment
		return nil
	}
	if payload.Sender == comment.Author {
		logrus.WithFields(logrus.Fields{
			"change":  change.ID,
			"comment": comment.ID,
			"author":  comment.Author,
		}).Debug("Self correction, not freezing.")
		return nil
	}
	body := comment.Body
	if payload.Action == checks.ActionEdited && comment.PreviousBody != "" {
		body = comment.PreviousBody
	}
	return l.frozen.AddFrozenComment(ctx, change.ID, store.FrozenComment{
		ID:        comment.ID,
		Author:    comment.Author,
		Body:      body,
		CreatedAt: comment.CreatedAt,
		ChangeID:  change.ID,
	})
}
