package webhook

import (
	"encoding/json"

	"github.com/jenkins-x/go-scm/scm"

	"github.com/peergate/peergate/pkg/checks"
)

// commentChanges is the slice of the raw payload carrying the pre-edit
// comment body. go-scm does not surface it, so it is read from the original
// JSON.
type commentChanges struct {
	Changes struct {
		Body struct {
			From string `json:"from"`
		} `json:"body"`
	} `json:"changes"`
}

func actionString(a scm.Action) string {
	switch a {
	case scm.ActionOpen:
		return checks.ActionOpened
	case scm.ActionReopen:
		return checks.ActionReopened
	case scm.ActionSync:
		return checks.ActionSynchronize
	case scm.ActionCreate:
		return checks.ActionCreated
	case scm.ActionEdited, scm.ActionUpdate:
		return checks.ActionEdited
	case scm.ActionDelete:
		return checks.ActionDeleted
	}
	return a.String()
}

func repository(r scm.Repository) checks.Repository {
	id := r.ID
	if id == "" {
		id = r.Namespace + "/" + r.Name
	}
	return checks.Repository{
		ID:    id,
		Owner: r.Namespace,
		Name:  r.Name,
	}
}

func previousBody(raw []byte) string {
	var c commentChanges
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}
	return c.Changes.Body.From
}

// ConvertWebhook maps a parsed go-scm hook onto the opaque payload the
// dispatcher routes. Hooks the checks cannot act on return nil.
func ConvertWebhook(hook scm.Webhook, raw []byte) *checks.Payload {
	switch h := hook.(type) {
	case *scm.PullRequestHook:
		pr := h.PullRequest
		return &checks.Payload{
			Event:  checks.EventPullRequest,
			Action: actionString(h.Action),
			Repo:   repository(h.Repo),
			PullRequest: &checks.PullRequest{
				Number:  pr.Number,
				HeadSHA: headSHA(&pr),
				Author:  pr.Author.Login,
				Open:    !pr.Closed,
			},
			Number: pr.Number,
			Sender: h.Sender.Login,
			Raw:    raw,
		}
	case *scm.IssueCommentHook:
		if h.Issue.PullRequest == nil {
			// plain issue comments cannot affect a change
			return nil
		}
		return &checks.Payload{
			Event:  checks.EventIssueComment,
			Action: actionString(h.Action),
			Repo:   repository(h.Repo),
			Number: h.Issue.Number,
			Comment: &checks.Comment{
				ID:           h.Comment.ID,
				Author:       h.Comment.Author.Login,
				Body:         h.Comment.Body,
				CreatedAt:    h.Comment.Created,
				PreviousBody: previousBody(raw),
			},
			Sender: h.Sender.Login,
			Raw:    raw,
		}
	case *scm.PullRequestCommentHook:
		return &checks.Payload{
			Event:  checks.EventPullRequestComment,
			Action: actionString(h.Action),
			Repo:   repository(h.Repo),
			Number: h.PullRequest.Number,
			Comment: &checks.Comment{
				ID:           h.Comment.ID,
				Author:       h.Comment.Author.Login,
				Body:         h.Comment.Body,
				CreatedAt:    h.Comment.Created,
				PreviousBody: previousBody(raw),
			},
			Sender: h.Sender.Login,
			Raw:    raw,
		}
	}
	return nil
}

func headSHA(pr *scm.PullRequest) string {
	if pr.Head.Sha != "" {
		return pr.Head.Sha
	}
	return pr.Sha
}
