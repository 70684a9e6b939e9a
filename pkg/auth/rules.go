package auth

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// Requirement is the outcome of evaluating a [RuleSet] for a path.
type Requirement string

const (
	// RequirementAuthenticated requires a verified bearer token.
	RequirementAuthenticated Requirement = "authenticated"

	// RequirementPublic admits anonymous requests.
	RequirementPublic Requirement = "public"
)

// DefaultRequirement applies to paths no rule matches. Open by default;
// see the package documentation.
const DefaultRequirement = RequirementPublic

// Valid reports whether r is a known requirement.
func (r Requirement) Valid() bool {
	return r == RequirementAuthenticated || r == RequirementPublic
}

func (r Requirement) String() string { return string(r) }

// Rule maps a path pattern to a requirement. Patterns are Ant style:
// "*" matches within one segment, "**" matches any number of segments,
// and a trailing "/**" also matches the bare prefix ("/api/**" matches
// "/api").
type Rule struct {
	Pattern     string      `yaml:"pattern" json:"pattern"`
	Requirement Requirement `yaml:"requirement" json:"requirement"`
}

func (r Rule) matches(p string) bool {
	if ok, _ := doublestar.Match(r.Pattern, p); ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(r.Pattern, "/**"); ok {
		if prefix == "" {
			return true
		}
		ok, _ := doublestar.Match(prefix, p)
		return ok
	}
	return false
}

// RuleSet is an ordered, immutable list of rules. The first rule whose
// pattern matches decides; when none matches, [DefaultRequirement]
// applies. It is safe for concurrent use.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates rules and returns them as a RuleSet. Patterns must
// be absolute and syntactically valid; requirements must be
// "authenticated" or "public".
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if !strings.HasPrefix(r.Pattern, "/") {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"auth: rule %d pattern %q must start with /", i, r.Pattern)
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"auth: rule %d pattern %q is malformed", i, r.Pattern)
		}
		if !r.Requirement.Valid() {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"auth: rule %d requirement %q must be %q or %q",
				i, r.Requirement, RequirementAuthenticated, RequirementPublic)
		}
		out = append(out, r)
	}
	return &RuleSet{rules: out}, nil
}

// MustRuleSet is NewRuleSet that panics on invalid rules. For rule sets
// built from literals.
func MustRuleSet(rules ...Rule) *RuleSet {
	rs, err := NewRuleSet(rules...)
	if err != nil {
		panic(fmt.Sprintf("auth: MustRuleSet: %v", err))
	}
	return rs
}

// ProtectPrefix returns the rule requiring authentication for prefix and
// everything below it.
func ProtectPrefix(prefix string) Rule {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return Rule{Pattern: "/**", Requirement: RequirementAuthenticated}
	}
	return Rule{Pattern: prefix + "/**", Requirement: RequirementAuthenticated}
}

// Decide returns the requirement for a request path. The path is cleaned
// first so "/api/../api/x" and "/api//x" are judged as "/api/x".
func (s *RuleSet) Decide(p string) Requirement {
	p = cleanPath(p)
	for _, r := range s.rules {
		if r.matches(p) {
			return r.Requirement
		}
	}
	return DefaultRequirement
}

// Rules returns a copy of the rules in evaluation order.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
