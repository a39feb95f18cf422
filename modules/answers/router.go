package answers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoMatch reports a line that is not a command. Callers stay silent.
var ErrNoMatch = errors.New("answers: no command matches input")

const (
	textPattern      = `[\w\s,.\-/:–]+`
	questionPattern  = `['"](` + textPattern + `\?)['"]`
	answerPattern    = `['"](` + textPattern + `\.?)['"]`
	question2Pattern = `(?:'(` + textPattern + `\?)'|"(` + textPattern + `\?)"|(` + textPattern + `\?))`
)

// Rule maps one anchored pattern to the intent it builds from its
// submatches. groups[0] is the whole line.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(groups []string) Intent
}

// DefaultRules returns the built-in rules in matching order.
//
// The documentation rule comes first. It only matches a single identifier
// with an optional separator, and every meme command needs whitespace plus a
// quote or a question mark, so it never shadows them.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "documentation",
			Pattern: regexp.MustCompile(`^(\w+)([.#]|::)?(\w+)?$`),
			Build: func(groups []string) Intent {
				return Intent{Kind: IntentDocumentation, Query: strings.Join(groups[1:], "")}
			},
		},
		{
			Name:    "all memes",
			Pattern: regexp.MustCompile(`(?i)^all\s+memes$`),
			Build: func([]string) Intent {
				return Intent{Kind: IntentListAll}
			},
		},
		{
			Name:    "remember",
			Pattern: regexp.MustCompile(`(?i)^remember\s+` + questionPattern + `\s+with\s+` + answerPattern + `$`),
			Build: func(groups []string) Intent {
				return Intent{Kind: IntentCreate, Question: groups[1], Answer: groups[2]}
			},
		},
		{
			Name:    "answer",
			Pattern: regexp.MustCompile(`(?i)^answer\s+` + question2Pattern + `$`),
			Build: func(groups []string) Intent {
				return Intent{Kind: IntentRead, Question: firstNonEmpty(groups[1:])}
			},
		},
		{
			Name:    "change",
			Pattern: regexp.MustCompile(`(?i)^change\s+` + questionPattern + `\s+to\s+` + answerPattern + `$`),
			Build: func(groups []string) Intent {
				return Intent{Kind: IntentUpdate, Question: groups[1], Answer: groups[2]}
			},
		},
		{
			Name:    "forget",
			Pattern: regexp.MustCompile(`(?i)^forget\s+` + question2Pattern + `$`),
			Build: func(groups []string) Intent {
				return Intent{Kind: IntentDelete, Question: firstNonEmpty(groups[1:])}
			},
		},
	}
}

// firstNonEmpty picks the matched branch of a quoted-or-bare alternation.
func firstNonEmpty(groups []string) string {
	for _, group := range groups {
		if group != "" {
			return group
		}
	}

	return ""
}

// Router classifies chat lines with an ordered rule table.
type Router struct {
	rules []Rule
}

// NewRouter creates a router over rules. The first rule matching the whole
// line wins.
func NewRouter(rules []Rule) (*Router, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("new router: no rules")
	}
	for idx, rule := range rules {
		if rule.Pattern == nil || rule.Build == nil {
			return nil, fmt.Errorf("new router: rule %d %q is incomplete", idx, rule.Name)
		}
	}

	return &Router{rules: append([]Rule(nil), rules...)}, nil
}

// Route parses one line. It has no side effects.
func (r *Router) Route(input string) (Intent, error) {
	line := strings.TrimSpace(input)
	for _, rule := range r.rules {
		groups := rule.Pattern.FindStringSubmatch(line)
		if groups == nil {
			continue
		}
		return rule.Build(groups), nil
	}

	return Intent{}, ErrNoMatch
}
