package rewrite

import (
	"regexp"
	"sync"

	"github.com/wudi/rewriter/internal/config"
)

// RuleSet is an ordered, immutable list of pattern/replacement pairs,
// unique by pattern. Patterns and replacements are kept as parallel slices
// of equal length.
type RuleSet struct {
	patterns     []string
	replacements [][]byte
	compiled     []*lazyRegexp
}

// lazyRegexp compiles its pattern at most once. The outcome, including a
// compile error, is shared by every request that uses the rule.
type lazyRegexp struct {
	once sync.Once
	src  string
	re   *regexp.Regexp
	err  error
}

func (l *lazyRegexp) get() (*regexp.Regexp, error) {
	l.once.Do(func() {
		l.re, l.err = regexp.Compile(l.src)
	})
	return l.re, l.err
}

// NewRuleSet builds a rule set from configuration order. A repeated pattern
// keeps its first position and takes the later replacement. With validate
// set every pattern is compiled up front and the first failure is returned
// as a *ConfigurationError.
func NewRuleSet(rules config.Rules, validate bool) (*RuleSet, error) {
	rs := &RuleSet{}
	index := make(map[string]int, len(rules))

	for _, rule := range rules {
		if i, ok := index[rule.Pattern]; ok {
			rs.replacements[i] = []byte(rule.Replacement)
			continue
		}
		index[rule.Pattern] = len(rs.patterns)
		rs.patterns = append(rs.patterns, rule.Pattern)
		rs.replacements = append(rs.replacements, []byte(rule.Replacement))
		rs.compiled = append(rs.compiled, &lazyRegexp{src: rule.Pattern})
	}

	if validate {
		for _, l := range rs.compiled {
			if _, err := l.get(); err != nil {
				return nil, &ConfigurationError{Pattern: l.src, Err: err}
			}
		}
	}

	return rs, nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.patterns)
}

// Rules returns the rules in application order.
func (rs *RuleSet) Rules() config.Rules {
	out := make(config.Rules, rs.Len())
	for i := range out {
		out[i] = config.Rule{Pattern: rs.patterns[i], Replacement: string(rs.replacements[i])}
	}
	return out
}

// Apply runs every rule over text in order, each over the result of the
// previous one. text must be UTF-8 (invalid sequences are left untouched).
// Replacements expand $1 and ${name} references.
func (rs *RuleSet) Apply(text []byte) ([]byte, error) {
	for i := 0; i < rs.Len(); i++ {
		re, err := rs.compiled[i].get()
		if err != nil {
			return nil, &SubstitutionError{Pattern: rs.patterns[i], Err: err}
		}
		text = re.ReplaceAll(text, rs.replacements[i])
	}
	return text, nil
}
