package policy

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

const (
	defaultApprovalPattern = `^:\+1:$`
	defaultVetoPattern     = `^:-1:$`
)

// IgnoreOption controls which participants of a change are excluded from
// approval counting.
type IgnoreOption string

const (
	// IgnoreNone counts every commenter.
	IgnoreNone IgnoreOption = "none"
	// IgnoreLastCommitter excludes the author of the newest commit.
	IgnoreLastCommitter IgnoreOption = "last_committer"
	// IgnorePROpener excludes the user who opened the change.
	IgnorePROpener IgnoreOption = "pr_opener"
	// IgnoreBoth excludes the last committer and the opener.
	IgnoreBoth IgnoreOption = "both"
)

// From restricts counted authors to members of the listed organisations.
type From struct {
	Orgs []string `json:"orgs,omitempty"`
}

// Group is a named sub-policy with its own minimum and org restriction,
// evaluated against the same comment set as the top level policy.
type Group struct {
	Minimum int   `json:"minimum"`
	From    *From `json:"from,omitempty"`
}

// Policy is a parsed, validated per-repository approval configuration.
// Patterns are compiled once at parse time.
type Policy struct {
	Minimum         int
	ApprovalPattern *regexp.Regexp
	VetoPattern     *regexp.Regexp
	Ignore          IgnoreOption
	From            *From
	Groups          map[string]Group
}

type policySpec struct {
	Minimum         *int             `json:"minimum,omitempty"`
	ApprovalPattern string           `json:"approvalPattern,omitempty"`
	VetoPattern     string           `json:"vetoPattern,omitempty"`
	Ignore          string           `json:"ignore,omitempty"`
	From            *From            `json:"from,omitempty"`
	Groups          map[string]Group `json:"groups,omitempty"`
}

// Parse reads a YAML policy document, applies defaults and validates the
// result. Structurally invalid input is rejected rather than defaulted.
func Parse(data []byte) (*Policy, error) {
	spec := &policySpec{}
	if err := yaml.UnmarshalStrict(data, spec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal approval policy")
	}
	return spec.toPolicy()
}

func (s *policySpec) toPolicy() (*Policy, error) {
	p := &Policy{
		Minimum: 1,
		Ignore:  IgnoreNone,
		From:    s.From,
		Groups:  s.Groups,
	}
	if s.Minimum != nil {
		if *s.Minimum < 0 {
			return nil, fmt.Errorf("minimum must not be negative, got %d", *s.Minimum)
		}
		p.Minimum = *s.Minimum
	}
	var err error
	p.ApprovalPattern, err = compilePattern(s.ApprovalPattern, defaultApprovalPattern)
	if err != nil {
		return nil, errors.Wrap(err, "invalid approval pattern")
	}
	p.VetoPattern, err = compilePattern(s.VetoPattern, defaultVetoPattern)
	if err != nil {
		return nil, errors.Wrap(err, "invalid veto pattern")
	}
	if s.Ignore != "" {
		switch IgnoreOption(s.Ignore) {
		case IgnoreNone, IgnoreLastCommitter, IgnorePROpener, IgnoreBoth:
			p.Ignore = IgnoreOption(s.Ignore)
		default:
			return nil, fmt.Errorf("unknown ignore option %q", s.Ignore)
		}
	}
	for name, g := range s.Groups {
		if g.Minimum < 1 {
			return nil, fmt.Errorf("group %q needs a minimum of at least 1, got %d", name, g.Minimum)
		}
	}
	return p, nil
}

func compilePattern(pattern, def string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = def
	}
	return regexp.Compile(pattern)
}

// Validate reports whether a policy is usable for an evaluation. It guards
// policies that were built by hand rather than through Parse.
func (p *Policy) Validate() error {
	if p == nil {
		return errors.New("no approval policy configured")
	}
	if p.ApprovalPattern == nil {
		return errors.New("approval policy has no approval pattern")
	}
	if p.Minimum < 0 {
		return fmt.Errorf("approval policy minimum must not be negative, got %d", p.Minimum)
	}
	for name, g := range p.Groups {
		if g.Minimum < 1 {
			return fmt.Errorf("approval policy group %q needs a minimum of at least 1", name)
		}
	}
	return nil
}
