package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jenkins-x/go-scm/scm"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergate/peergate/pkg/audit"
	"github.com/peergate/peergate/pkg/checks"
	"github.com/peergate/peergate/pkg/ledger"
	"github.com/peergate/peergate/pkg/scmprovider/fake"
	"github.com/peergate/peergate/pkg/store"
)

const (
	testRepoID = "repo-1"
	testSHA    = "abc123"
)

var testRepo = checks.Repository{ID: testRepoID, Owner: "acme", Name: "widgets"}

type capturingSink struct {
	Events []audit.Event
	Err    error
}

func (s *capturingSink) Log(ctx context.Context, ev audit.Event) error {
	if s.Err != nil {
		return s.Err
	}
	s.Events = append(s.Events, ev)
	return nil
}

type harness struct {
	engine *Engine
	client *fake.SCMClient
	store  *store.RedisStore
	sink   *capturingSink
}

func newHarness(t *testing.T) *harness {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st, err := store.NewRedisStore(rdb)
	require.NoError(t, err)

	client := fake.NewSCMClient()
	sink := &capturingSink{}
	engine := NewEngine(&fake.Factory{Client: client}, ledger.New(st), st, sink, "")
	return &harness{engine: engine, client: client, store: st, sink: sink}
}

// openChange seeds the store with a change record and the fake with an open
// pull request, returning the stored change.
func (h *harness) openChange(t *testing.T, number int) store.Change {
	ctx := context.Background()
	require.NoError(t, h.store.CreateChange(ctx, testRepoID, number))
	change, err := h.store.GetChange(ctx, testRepoID, number)
	require.NoError(t, err)
	h.client.PullRequests[number] = &scm.PullRequest{
		Number: number,
		Sha:    testSHA,
		Author: scm.User{Login: "opener"},
	}
	return change
}

func (h *harness) addComment(number, id int, author, body string) {
	h.client.Comments[number] = append(h.client.Comments[number], &scm.Comment{
		ID:      id,
		Body:    body,
		Author:  scm.User{Login: author},
		Created: time.Now().Add(time.Minute),
	})
}

func prRequest(t *testing.T, action string, change store.Change, policyYAML string) checks.Request {
	return checks.Request{
		Policy: mustParse(t, policyYAML),
		Payload: &checks.Payload{
			Event:  checks.EventPullRequest,
			Action: action,
			Repo:   testRepo,
			PullRequest: &checks.PullRequest{
				Number:  change.Number,
				HeadSHA: testSHA,
				Author:  "opener",
				Open:    true,
			},
			Number: change.Number,
		},
		Token:  "tok",
		Change: change,
	}
}

func commentRequest(t *testing.T, action string, change store.Change, c *checks.Comment, sender, policyYAML string) checks.Request {
	return checks.Request{
		Policy: mustParse(t, policyYAML),
		Payload: &checks.Payload{
			Event:   checks.EventIssueComment,
			Action:  action,
			Repo:    testRepo,
			Number:  change.Number,
			Comment: c,
			Sender:  sender,
		},
		Token:  "tok",
		Change: change,
	}
}

func TestExecuteOpenedWithNoComments(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionOpened, change, "minimum: 2"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2, "pending then final, nothing else")
	assert.Equal(t, scm.StatePending, statuses[0].State)
	assert.Equal(t, scm.StateFailure, statuses[1].State)
	assert.Equal(t, "This change needs 2 more approvals (0/2).", statuses[1].Desc)

	require.Len(t, h.sink.Events, 1)
	assert.Equal(t, checks.StateFailure, h.sink.Events[0].State)
	assert.Equal(t, testSHA, h.sink.Events[0].CommitSHA)
}

func TestExecuteOpenedWithEnoughApprovals(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	h.addComment(4, 1, "alice", ":+1:")
	h.addComment(4, 2, "bob", ":+1:")
	h.addComment(4, 3, "bob", ":+1:")

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionOpened, change, "minimum: 2"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2)
	assert.Equal(t, scm.StateSuccess, statuses[1].State)
	assert.Equal(t, "Approved (2/2).", statuses[1].Desc)

	require.Len(t, h.sink.Events, 1)
	assert.Equal(t, []string{"alice", "bob"}, h.sink.Events[0].Approvers)
	assert.False(t, h.sink.Events[0].Vetoed)
}

func TestExecuteCountsFrozenVetoOfDeletedComment(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	h.addComment(4, 3, "baz", ":+1:")
	require.NoError(t, h.store.AddFrozenComment(context.Background(), change.ID, store.FrozenComment{
		ID: 1, Author: "foo", Body: ":-1:", CreatedAt: time.Now().Add(time.Minute),
	}))

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionOpened, change, "minimum: 1"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2)
	assert.Equal(t, scm.StateFailure, statuses[1].State)
	assert.Equal(t, "Vetoes: @foo.", statuses[1].Desc)

	require.Len(t, h.sink.Events, 1)
	assert.True(t, h.sink.Events[0].Vetoed)
}

func TestExecuteSynchronizeResetsWindowWithoutFetching(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	// prove no comment fetch happens: fetching would fail the evaluation
	h.client.ListCommentsError = assert.AnError

	before := change.LastPush
	time.Sleep(5 * time.Millisecond)

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionSynchronize, change, "minimum: 2"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 1, "no pending for a window reset")
	assert.Equal(t, scm.StateFailure, statuses[0].State)
	assert.Equal(t, "This change needs 2 more approvals (0/2).", statuses[0].Desc)

	bumped, err := h.store.GetChange(context.Background(), testRepoID, 4)
	require.NoError(t, err)
	assert.True(t, bumped.LastPush.After(before))
}

func TestExecuteCommentCreatedEvaluates(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	h.addComment(4, 1, "alice", ":+1:")

	c := &checks.Comment{ID: 1, Author: "alice", Body: ":+1:", CreatedAt: time.Now().Add(time.Minute)}
	err := h.engine.Execute(context.Background(), commentRequest(t, checks.ActionCreated, change, c, "alice", "minimum: 1"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2)
	assert.Equal(t, scm.StateSuccess, statuses[1].State)
}

func TestExecuteCommentOnClosedChangeIsNoop(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	h.client.PullRequests[4].Closed = true

	c := &checks.Comment{ID: 1, Author: "alice", Body: ":+1:"}
	err := h.engine.Execute(context.Background(), commentRequest(t, checks.ActionCreated, change, c, "alice", "minimum: 1"))
	require.NoError(t, err)

	assert.Empty(t, h.client.StatusesFor("acme", "widgets", testSHA))
	assert.Empty(t, h.sink.Events)
}

func TestExecuteEditedCommentFreezesAndRecounts(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	// the live stream already shows the tampered body
	h.addComment(4, 1, "foo", "tampered")

	c := &checks.Comment{
		ID:           1,
		Author:       "foo",
		Body:         "tampered",
		PreviousBody: ":+1:",
		CreatedAt:    time.Now().Add(time.Minute),
	}
	err := h.engine.Execute(context.Background(), commentRequest(t, checks.ActionEdited, change, c, "attacker", "minimum: 1"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2)
	assert.Equal(t, scm.StateSuccess, statuses[1].State, "the frozen approval must survive tampering")

	frozen, err := h.store.FrozenComments(context.Background(), change.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Equal(t, ":+1:", frozen[0].Body)
}

func TestExecuteIgnoredUsersNeverCount(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	h.client.LastCommitters[4] = "bob"
	h.addComment(4, 1, "bob", ":+1:")
	h.addComment(4, 2, "opener", ":+1:")

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionOpened, change, "minimum: 1\nignore: both"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2)
	assert.Equal(t, scm.StateFailure, statuses[1].State)
	assert.Equal(t, "This change needs 1 more approvals (0/1).", statuses[1].Desc)
}

func TestExecuteWindowResetVoidsOldApprovals(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	// approval predates the change's last push
	h.client.Comments[4] = append(h.client.Comments[4], &scm.Comment{
		ID:      1,
		Body:    ":+1:",
		Author:  scm.User{Login: "alice"},
		Created: change.LastPush.Add(-time.Hour),
	})

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionOpened, change, "minimum: 1"))
	require.NoError(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2)
	assert.Equal(t, scm.StateFailure, statuses[1].State)
}

func TestExecuteAuditFailurePublishesErrorVerdict(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	h.sink.Err = assert.AnError

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionOpened, change, "minimum: 1"))
	require.Error(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 3, "pending, final, then the error verdict")
	assert.Equal(t, scm.StateError, statuses[2].State)
}

func TestExecuteReconcileFailurePublishesErrorVerdict(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)
	h.client.ListCommentsError = assert.AnError

	err := h.engine.Execute(context.Background(), prRequest(t, checks.ActionOpened, change, "minimum: 1"))
	require.Error(t, err)

	statuses := h.client.StatusesFor("acme", "widgets", testSHA)
	require.Len(t, statuses, 2)
	assert.Equal(t, scm.StatePending, statuses[0].State)
	assert.Equal(t, scm.StateError, statuses[1].State)
	assert.Empty(t, h.sink.Events)
}

func TestExecuteUnknownActionIsNoop(t *testing.T) {
	h := newHarness(t)
	change := h.openChange(t, 4)

	err := h.engine.Execute(context.Background(), prRequest(t, "labeled", change, "minimum: 1"))
	require.NoError(t, err)
	assert.Empty(t, h.client.StatusesFor("acme", "widgets", testSHA))
}
