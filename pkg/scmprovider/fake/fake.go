package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jenkins-x/go-scm/scm"

	"github.com/peergate/peergate/pkg/scmprovider"
)

const botName = "peergate-bot"

// Bot is the login the fake client reports for itself.
const Bot = botName

// SCMClient is like Client, but fake.
type SCMClient struct {
	mu sync.Mutex

	PullRequests   map[int]*scm.PullRequest
	Comments       map[int][]*scm.Comment
	OrgMembers     map[string][]string
	Collaborators  []string
	LastCommitters map[int]string

	// org/repo@sha: statuses in publication order
	CreatedStatuses map[string][]*scm.StatusInput

	ListCommentsError  error
	CreateStatusError  error
	MembershipError    error
	LastCommitterError error
}

// NewSCMClient creates an empty fake
func NewSCMClient() *SCMClient {
	return &SCMClient{
		PullRequests:    map[int]*scm.PullRequest{},
		Comments:        map[int][]*scm.Comment{},
		OrgMembers:      map[string][]string{},
		LastCommitters:  map[int]string{},
		CreatedStatuses: map[string][]*scm.StatusInput{},
	}
}

var _ scmprovider.SCMClient = &SCMClient{}

// BotName returns the name of the bot
func (f *SCMClient) BotName() string {
	return botName
}

// GetPullRequest returns the pull request
func (f *SCMClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.PullRequests[number]
	if !ok {
		return nil, fmt.Errorf("pull request %d not found", number)
	}
	return pr, nil
}

// ListOpenPullRequests lists the open pull requests
func (f *SCMClient) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var prs []*scm.PullRequest
	for _, pr := range f.PullRequests {
		if !pr.Closed {
			prs = append(prs, pr)
		}
	}
	return prs, nil
}

// ListCommentsSince returns the comments created at or after since
func (f *SCMClient) ListCommentsSince(ctx context.Context, owner, repo string, number int, since time.Time) ([]*scm.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListCommentsError != nil {
		return nil, f.ListCommentsError
	}
	var comments []*scm.Comment
	for _, c := range f.Comments[number] {
		if c.Created.Before(since) {
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// CreateStatus records a published status
func (f *SCMClient) CreateStatus(ctx context.Context, owner, repo, ref string, in *scm.StatusInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateStatusError != nil {
		return f.CreateStatusError
	}
	key := fmt.Sprintf("%s/%s@%s", owner, repo, ref)
	f.CreatedStatuses[key] = append(f.CreatedStatuses[key], in)
	return nil
}

// IsMember returns whether the user was configured as an org member
func (f *SCMClient) IsMember(ctx context.Context, org, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MembershipError != nil {
		return false, f.MembershipError
	}
	for _, m := range f.OrgMembers[org] {
		if m == user {
			return true, nil
		}
	}
	return false, nil
}

// IsCollaborator returns whether the user was configured as a collaborator
func (f *SCMClient) IsCollaborator(ctx context.Context, owner, repo, login string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Collaborators {
		if c == login {
			return true, nil
		}
	}
	return false, nil
}

// LastCommitter returns the configured last committer for the pull request
func (f *SCMClient) LastCommitter(ctx context.Context, owner, repo string, number int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LastCommitterError != nil {
		return "", f.LastCommitterError
	}
	return f.LastCommitters[number], nil
}

// StatusesFor returns the statuses published for a sha in order
func (f *SCMClient) StatusesFor(owner, repo, ref string) []*scm.StatusInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CreatedStatuses[fmt.Sprintf("%s/%s@%s", owner, repo, ref)]
}

// Factory hands out the same fake client regardless of token.
type Factory struct {
	Client *SCMClient

	// Tokens records the credentials the factory was asked for.
	Tokens []string
}

// Create returns the fake client
func (f *Factory) Create(token string) (scmprovider.SCMClient, error) {
	f.Tokens = append(f.Tokens, token)
	return f.Client, nil
}
