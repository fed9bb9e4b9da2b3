package scmprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/jenkins-x/go-scm/scm"
	"github.com/jenkins-x/go-scm/scm/factory"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// maxDescriptionLength is the provider imposed limit on commit status
// descriptions.
const maxDescriptionLength = 140

// SCMClient is the slice of the source control API the approval flow consumes.
type SCMClient interface {
	BotName() string
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*scm.PullRequest, error)
	ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*scm.PullRequest, error)
	ListCommentsSince(ctx context.Context, owner, repo string, number int, since time.Time) ([]*scm.Comment, error)
	CreateStatus(ctx context.Context, owner, repo, ref string, in *scm.StatusInput) error
	IsMember(ctx context.Context, org, user string) (bool, error)
	IsCollaborator(ctx context.Context, owner, repo, user string) (bool, error)
	LastCommitter(ctx context.Context, owner, repo string, number int) (string, error)
}

// Factory builds an authenticated client for a credential. The dispatcher
// resolves a credential per (repository, check type), so clients are created
// per invocation rather than shared.
type Factory interface {
	Create(token string) (SCMClient, error)
}

// ClientFactory creates go-scm backed clients with retrying transports.
type ClientFactory struct {
	Kind          string
	ServerURL     string
	Bot           string
	MaxRetryDelay time.Duration
}

// Create builds a client authenticated with the given token.
func (f *ClientFactory) Create(token string) (SCMClient, error) {
	client, err := factory.NewClient(f.Kind, f.ServerURL, "")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s client for %s", f.Kind, f.ServerURL)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Transport = &retryTransport{base: httpClient.Transport, maxDelay: f.MaxRetryDelay}
	client.Client = httpClient
	return &Client{client: client, botName: f.Bot}, nil
}

// Client adapts go-scm to the SCMClient interface.
type Client struct {
	client  *scm.Client
	botName string
}

// ToClient wraps an existing go-scm client.
func ToClient(client *scm.Client, botName string) *Client {
	return &Client{client: client, botName: botName}
}

// BotName returns the login this service acts as.
func (c *Client) BotName() string {
	return c.botName
}

func (c *Client) repositoryName(owner, repo string) string {
	return fmt.Sprintf("%s/%s", owner, repo)
}

// GetPullRequest returns the pull request
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*scm.PullRequest, error) {
	fullName := c.repositoryName(owner, repo)
	pr, _, err := c.client.PullRequests.Find(ctx, fullName, number)
	return pr, err
}

// ListOpenPullRequests lists the currently open pull requests of a repository
func (c *Client) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*scm.PullRequest, error) {
	fullName := c.repositoryName(owner, repo)
	var allPRs []*scm.PullRequest
	var resp *scm.Response
	var prs []*scm.PullRequest
	var err error
	firstRun := false
	opts := scm.PullRequestListOptions{
		Page: 1,
		Open: true,
	}
	for !firstRun || (resp != nil && opts.Page <= resp.Page.Last) {
		prs, resp, err = c.client.PullRequests.List(ctx, fullName, &opts)
		if err != nil {
			return nil, err
		}
		firstRun = true
		allPRs = append(allPRs, prs...)
		opts.Page++
	}
	return allPRs, nil
}

// ListCommentsSince lists the comments of a pull request created at or after
// since. The provider API has no since filter, so paging fetches everything
// and filters here.
func (c *Client) ListCommentsSince(ctx context.Context, owner, repo string, number int, since time.Time) ([]*scm.Comment, error) {
	fullName := c.repositoryName(owner, repo)
	var allComments []*scm.Comment
	var resp *scm.Response
	var comments []*scm.Comment
	var err error
	firstRun := false
	opts := scm.ListOptions{
		Page: 1,
	}
	for !firstRun || (resp != nil && opts.Page <= resp.Page.Last) {
		comments, resp, err = c.client.Issues.ListComments(ctx, fullName, number, &opts)
		if err != nil {
			return nil, err
		}
		firstRun = true
		for _, comment := range comments {
			if comment.Created.Before(since) {
				continue
			}
			allComments = append(allComments, comment)
		}
		opts.Page++
	}
	return allComments, nil
}

// CreateStatus publishes a commit status, truncating the description to the
// provider limit.
func (c *Client) CreateStatus(ctx context.Context, owner, repo, ref string, in *scm.StatusInput) error {
	fullName := c.repositoryName(owner, repo)
	in.Desc = truncate(in.Desc)
	_, _, err := c.client.Repositories.CreateStatus(ctx, fullName, ref, in)
	return err
}

// IsMember checks if a user is a member of the organisation
func (c *Client) IsMember(ctx context.Context, org, user string) (bool, error) {
	member, _, err := c.client.Organizations.IsMember(ctx, org, user)
	return member, err
}

// IsCollaborator check if a user is collaborator to a repository
func (c *Client) IsCollaborator(ctx context.Context, owner, repo, login string) (bool, error) {
	fullName := c.repositoryName(owner, repo)
	flag, _, err := c.client.Repositories.IsCollaborator(ctx, fullName, login)
	return flag, err
}

// LastCommitter returns the login of the author of the newest commit on a
// pull request.
func (c *Client) LastCommitter(ctx context.Context, owner, repo string, number int) (string, error) {
	fullName := c.repositoryName(owner, repo)
	var allCommits []*scm.Commit
	var resp *scm.Response
	var commits []*scm.Commit
	var err error
	firstRun := false
	opts := scm.ListOptions{
		Page: 1,
	}
	for !firstRun || (resp != nil && opts.Page <= resp.Page.Last) {
		commits, resp, err = c.client.PullRequests.ListCommits(ctx, fullName, number, &opts)
		if err != nil {
			return "", err
		}
		firstRun = true
		allCommits = append(allCommits, commits...)
		opts.Page++
	}
	if len(allCommits) == 0 {
		return "", errors.Errorf("pull request %s#%d has no commits", fullName, number)
	}
	last := allCommits[len(allCommits)-1]
	if last.Committer.Login != "" {
		return last.Committer.Login, nil
	}
	return last.Author.Login, nil
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDescriptionLength {
		return s
	}
	return string(runes[:maxDescriptionLength-3]) + "..."
}
