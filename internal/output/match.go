package output

import (
	"regexp"
	"strings"

	"github.com/1broseidon/vidwall/internal/config"
)

// tier orders match kinds; lower tiers win.
func tier(kind config.MatchKind) int {
	switch kind {
	case config.MatchExact:
		return 0
	case config.MatchPrefix:
		return 1
	case config.MatchSuffix:
		return 2
	case config.MatchRegex, config.MatchGlob:
		return 3
	default:
		return 4
	}
}

type compiledRule struct {
	rule  config.OutputRule
	index int
	re    *regexp.Regexp
}

func compileRule(index int, rule config.OutputRule) (compiledRule, error) {
	cr := compiledRule{rule: rule, index: index}
	var err error
	switch rule.Match.Kind {
	case config.MatchRegex:
		cr.re, err = regexp.Compile(rule.Match.Pattern)
	case config.MatchGlob:
		cr.re, err = regexp.Compile(config.GlobToRegexp(rule.Match.Pattern))
	}
	return cr, err
}

func (r compiledRule) matches(name string) bool {
	p := r.rule.Match.Pattern
	switch r.rule.Match.Kind {
	case config.MatchExact:
		return name == p
	case config.MatchPrefix:
		return strings.HasPrefix(name, p)
	case config.MatchSuffix:
		return strings.HasSuffix(name, p)
	case config.MatchRegex, config.MatchGlob:
		return r.re != nil && r.re.MatchString(name)
	}
	return false
}

// ruleSet holds rules grouped by tier, each tier in configuration order.
type ruleSet struct {
	tiers [4][]compiledRule
	def   *compiledRule
}

func newRuleSet(rules []config.OutputRule) (*ruleSet, error) {
	rs := &ruleSet{}
	for i, rule := range rules {
		cr, err := compileRule(i, rule)
		if err != nil {
			return nil, err
		}
		t := tier(rule.Match.Kind)
		if t == 4 {
			if rs.def == nil {
				c := cr
				rs.def = &c
			}
			continue
		}
		rs.tiers[t] = append(rs.tiers[t], cr)
	}
	return rs, nil
}

// lookup returns the winning rule for name: exact, then prefix, then suffix,
// then regex/glob, then default.
func (rs *ruleSet) lookup(name string) (compiledRule, bool) {
	for _, rules := range rs.tiers {
		for _, r := range rules {
			if r.matches(name) {
				return r, true
			}
		}
	}
	if rs.def != nil {
		return *rs.def, true
	}
	return compiledRule{}, false
}
