package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/peergate/peergate/pkg/checks"
	"github.com/peergate/peergate/pkg/policy"
	"github.com/peergate/peergate/pkg/scmprovider"
)

// Stats is the result of counting a reconciled comment set against a policy.
// Author lists keep first-appearance order and hold each author at most once.
type Stats struct {
	Approvals []string
	Vetos     []string
	Groups    map[string][]string
}

// countApprovalsAndVetos walks the comment set once, testing each body against
// the veto pattern first and the approval pattern second. Ignored authors and
// the bot itself never count. When from lists organisations, an author only
// counts if at least one membership check resolves true; membership lookups
// are memoised in cache across the evaluation.
func (e *Engine) countApprovalsAndVetos(ctx context.Context, client scmprovider.SCMClient, comments []checks.Comment, pol *policy.Policy, from *policy.From, ignored []string, cache map[string]bool) (approvals, vetos []string, err error) {
	ignoredSet := make(map[string]bool, len(ignored)+1)
	for _, user := range ignored {
		ignoredSet[user] = true
	}
	ignoredSet[client.BotName()] = true

	approved := map[string]bool{}
	vetoed := map[string]bool{}
	for _, c := range comments {
		if c.Author == "" || ignoredSet[c.Author] {
			continue
		}
		body := strings.TrimSpace(c.Body)
		isVeto := pol.VetoPattern != nil && pol.VetoPattern.MatchString(body)
		isApproval := !isVeto && pol.ApprovalPattern.MatchString(body)
		if !isVeto && !isApproval {
			continue
		}
		if from != nil && len(from.Orgs) > 0 {
			member, err := e.isMemberOfAny(ctx, client, from.Orgs, c.Author, cache)
			if err != nil {
				return nil, nil, err
			}
			if !member {
				continue
			}
		}
		if isVeto && !vetoed[c.Author] {
			vetoed[c.Author] = true
			vetos = append(vetos, c.Author)
		}
		if isApproval && !approved[c.Author] {
			approved[c.Author] = true
			approvals = append(approvals, c.Author)
		}
	}
	return approvals, vetos, nil
}

func (e *Engine) isMemberOfAny(ctx context.Context, client scmprovider.SCMClient, orgs []string, user string, cache map[string]bool) (bool, error) {
	for _, org := range orgs {
		key := org + "/" + user
		member, ok := cache[key]
		if !ok {
			var err error
			member, err = client.IsMember(ctx, org, user)
			if err != nil {
				return false, err
			}
			cache[key] = member
		}
		if member {
			return true, nil
		}
	}
	return false, nil
}

// commentStats counts the comment set under the top level policy and then
// recounts it once per named group, each group applying its own org filter
// independently against the same comments.
func (e *Engine) commentStats(ctx context.Context, client scmprovider.SCMClient, comments []checks.Comment, pol *policy.Policy, ignored []string) (Stats, error) {
	cache := map[string]bool{}
	approvals, vetos, err := e.countApprovalsAndVetos(ctx, client, comments, pol, pol.From, ignored, cache)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Approvals: approvals, Vetos: vetos}
	if len(pol.Groups) > 0 {
		stats.Groups = make(map[string][]string, len(pol.Groups))
		for name, group := range pol.Groups {
			members, _, err := e.countApprovalsAndVetos(ctx, client, comments, pol, group.From, ignored, cache)
			if err != nil {
				return Stats{}, err
			}
			stats.Groups[name] = members
		}
	}
	return stats, nil
}

// GenerateStatus turns counted stats into the verdict to publish. Vetoes
// dominate any approval count. Success needs the top level minimum and every
// configured group's own minimum; a change with no evidence at all renders the
// ordinary shortfall failure rather than a distinct state.
func GenerateStatus(stats Stats, pol *policy.Policy, statusContext string) checks.Verdict {
	if len(stats.Vetos) > 0 {
		mentions := make([]string, len(stats.Vetos))
		for i, user := range stats.Vetos {
			mentions[i] = "@" + user
		}
		return checks.Verdict{
			State:       checks.StateFailure,
			Description: fmt.Sprintf("Vetoes: %s.", strings.Join(mentions, ", ")),
			Context:     statusContext,
		}
	}
	if missing := pol.Minimum - len(stats.Approvals); missing > 0 {
		return checks.Verdict{
			State:       checks.StateFailure,
			Description: fmt.Sprintf("This change needs %d more approvals (%d/%d).", missing, len(stats.Approvals), pol.Minimum),
			Context:     statusContext,
		}
	}
	for _, name := range sortedGroupNames(pol.Groups) {
		group := pol.Groups[name]
		have := len(stats.Groups[name])
		if missing := group.Minimum - have; missing > 0 {
			return checks.Verdict{
				State:       checks.StateFailure,
				Description: fmt.Sprintf("Group %s needs %d more approvals (%d/%d).", name, missing, have, group.Minimum),
				Context:     statusContext,
			}
		}
	}
	return checks.Verdict{
		State:       checks.StateSuccess,
		Description: fmt.Sprintf("Approved (%d/%d).", len(stats.Approvals), pol.Minimum),
		Context:     statusContext,
	}
}

func sortedGroupNames(groups map[string]policy.Group) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ignoredUsers resolves the authors whose comments never count for this
// evaluation: the last committer, the change opener, both in that order, or
// nobody.
func (e *Engine) ignoredUsers(ctx context.Context, client scmprovider.SCMClient, repo checks.Repository, number int, opener string, pol *policy.Policy) ([]string, error) {
	var users []string
	if pol.Ignore == policy.IgnoreLastCommitter || pol.Ignore == policy.IgnoreBoth {
		committer, err := client.LastCommitter(ctx, repo.Owner, repo.Name, number)
		if err != nil {
			return nil, err
		}
		if committer != "" {
			users = append(users, committer)
		}
	}
	if pol.Ignore == policy.IgnorePROpener || pol.Ignore == policy.IgnoreBoth {
		if opener != "" && (len(users) == 0 || users[0] != opener) {
			users = append(users, opener)
		}
	}
	return users, nil
}
