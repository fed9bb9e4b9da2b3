package webhook

import (
	"testing"
	"time"

	"github.com/jenkins-x/go-scm/scm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergate/peergate/pkg/checks"
)

func TestConvertPullRequestHook(t *testing.T) {
	hook := &scm.PullRequestHook{
		Action: scm.ActionOpen,
		Repo:   scm.Repository{ID: "42", Namespace: "acme", Name: "widgets"},
		PullRequest: scm.PullRequest{
			Number: 4,
			Sha:    "abc123",
			Author: scm.User{Login: "opener"},
		},
		Sender: scm.User{Login: "opener"},
	}
	payload := ConvertWebhook(hook, []byte(`{}`))
	require.NotNil(t, payload)
	assert.Equal(t, checks.EventPullRequest, payload.Event)
	assert.Equal(t, checks.ActionOpened, payload.Action)
	assert.Equal(t, checks.Repository{ID: "42", Owner: "acme", Name: "widgets"}, payload.Repo)
	require.NotNil(t, payload.PullRequest)
	assert.Equal(t, 4, payload.PullRequest.Number)
	assert.Equal(t, "abc123", payload.PullRequest.HeadSHA)
	assert.True(t, payload.PullRequest.Open)
	assert.Equal(t, "opener", payload.Sender)
}

func TestConvertPullRequestHookPrefersHeadSha(t *testing.T) {
	hook := &scm.PullRequestHook{
		Action: scm.ActionSync,
		Repo:   scm.Repository{Namespace: "acme", Name: "widgets"},
		PullRequest: scm.PullRequest{
			Number: 4,
			Sha:    "old",
			Head:   scm.PullRequestBranch{Sha: "new"},
		},
	}
	payload := ConvertWebhook(hook, []byte(`{}`))
	require.NotNil(t, payload)
	assert.Equal(t, checks.ActionSynchronize, payload.Action)
	assert.Equal(t, "new", payload.PullRequest.HeadSHA)
	assert.Equal(t, "acme/widgets", payload.Repo.ID, "fall back to the full name when the provider has no id")
}

func TestConvertIssueCommentHook(t *testing.T) {
	created := time.Date(2023, 4, 1, 10, 0, 0, 0, time.UTC)
	hook := &scm.IssueCommentHook{
		Action: scm.ActionCreate,
		Repo:   scm.Repository{ID: "42", Namespace: "acme", Name: "widgets"},
		Issue: scm.Issue{
			Number:      4,
			PullRequest: &scm.PullRequest{Number: 4},
		},
		Comment: scm.Comment{
			ID:      7,
			Body:    ":+1:",
			Author:  scm.User{Login: "alice"},
			Created: created,
		},
		Sender: scm.User{Login: "alice"},
	}
	payload := ConvertWebhook(hook, []byte(`{}`))
	require.NotNil(t, payload)
	assert.Equal(t, checks.EventIssueComment, payload.Event)
	assert.Equal(t, checks.ActionCreated, payload.Action)
	assert.Equal(t, 4, payload.Number)
	require.NotNil(t, payload.Comment)
	assert.Equal(t, 7, payload.Comment.ID)
	assert.Equal(t, ":+1:", payload.Comment.Body)
	assert.Equal(t, "alice", payload.Comment.Author)
	assert.Equal(t, created, payload.Comment.CreatedAt)
	assert.Empty(t, payload.Comment.PreviousBody)
}

func TestConvertIssueCommentHookOnPlainIssue(t *testing.T) {
	hook := &scm.IssueCommentHook{
		Action:  scm.ActionCreate,
		Repo:    scm.Repository{Namespace: "acme", Name: "widgets"},
		Issue:   scm.Issue{Number: 9},
		Comment: scm.Comment{ID: 7, Body: "hello"},
	}
	assert.Nil(t, ConvertWebhook(hook, []byte(`{}`)))
}

func TestConvertEditedCommentCarriesPreviousBody(t *testing.T) {
	raw := []byte(`{"action": "edited", "changes": {"body": {"from": ":+1:"}}}`)
	hook := &scm.IssueCommentHook{
		Action: scm.ActionEdited,
		Repo:   scm.Repository{ID: "42", Namespace: "acme", Name: "widgets"},
		Issue: scm.Issue{
			Number:      4,
			PullRequest: &scm.PullRequest{Number: 4},
		},
		Comment: scm.Comment{ID: 7, Body: "tampered", Author: scm.User{Login: "alice"}},
		Sender:  scm.User{Login: "mallory"},
	}
	payload := ConvertWebhook(hook, raw)
	require.NotNil(t, payload)
	assert.Equal(t, checks.ActionEdited, payload.Action)
	assert.Equal(t, ":+1:", payload.Comment.PreviousBody)
	assert.Equal(t, "mallory", payload.Sender)
	assert.Equal(t, raw, payload.Raw)
}

func TestConvertPullRequestCommentHook(t *testing.T) {
	hook := &scm.PullRequestCommentHook{
		Action:      scm.ActionDelete,
		Repo:        scm.Repository{ID: "42", Namespace: "acme", Name: "widgets"},
		PullRequest: scm.PullRequest{Number: 4},
		Comment:     scm.Comment{ID: 7, Body: ":-1:", Author: scm.User{Login: "bob"}},
		Sender:      scm.User{Login: "mallory"},
	}
	payload := ConvertWebhook(hook, []byte(`{}`))
	require.NotNil(t, payload)
	assert.Equal(t, checks.EventPullRequestComment, payload.Event)
	assert.Equal(t, checks.ActionDeleted, payload.Action)
	assert.Equal(t, 4, payload.Number)
	assert.Equal(t, "bob", payload.Comment.Author)
}

func TestConvertUnhandledHook(t *testing.T) {
	assert.Nil(t, ConvertWebhook(&scm.PushHook{}, []byte(`{}`)))
}

func TestActionStringUpdateMapsToEdited(t *testing.T) {
	assert.Equal(t, checks.ActionEdited, actionString(scm.ActionUpdate))
	assert.Equal(t, checks.ActionEdited, actionString(scm.ActionEdited))
}
