package automation

import (
	"fmt"
	"regexp"
	"strings"
)

// Trigger is a compiled responder pattern. `{name}` captures a
// whitespace-free token, `{name:pat}` captures pat, everything else is
// literal. The compiled expression is anchored: the whole message must
// match.
type Trigger struct {
	re    *regexp.Regexp
	names []string
	// groups holds the submatch index of each named capture. A capture
	// pattern may contain groups of its own, shifting later indices.
	groups []int
}

// CompileTrigger tokenises and compiles a trigger pattern.
func CompileTrigger(pattern string) (*Trigger, error) {
	var (
		sb      strings.Builder
		names   []string
		groups  []int
		literal strings.Builder
	)
	nextGroup := 1

	flush := func() {
		if literal.Len() > 0 {
			sb.WriteString(regexp.QuoteMeta(literal.String()))
			literal.Reset()
		}
	}

	sb.WriteString(`\A`)

	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '{' {
			literal.WriteByte(pattern[i])

			continue
		}

		// Find the matching close brace; capture patterns may contain
		// brace quantifiers like \d{2}.
		depth, end := 1, -1
		for j := i + 1; j < len(pattern); j++ {
			switch pattern[j] {
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth == 0 {
				end = j

				break
			}
		}
		if end < 0 {
			return nil, fmt.Errorf("unterminated capture in trigger %q", pattern)
		}
		token := pattern[i+1 : end]
		i = end

		name, expr := token, `[^\s]+`
		if colon := strings.IndexByte(token, ':'); colon >= 0 {
			name, expr = token[:colon], token[colon+1:]
		}
		if name == "" || !isCaptureName(name) {
			return nil, fmt.Errorf("invalid capture name %q in trigger %q", name, pattern)
		}
		inner, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid capture pattern %q in trigger %q: %w", expr, pattern, err)
		}

		flush()
		fmt.Fprintf(&sb, "(%s)", expr)
		names = append(names, name)
		groups = append(groups, nextGroup)
		nextGroup += 1 + inner.NumSubexp()
	}
	flush()
	sb.WriteString(`\z`)

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compile trigger %q: %w", pattern, err)
	}

	return &Trigger{re: re, names: names, groups: groups}, nil
}

func isCaptureName(name string) bool {
	for _, r := range name {
		valid := r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')
		if !valid {
			return false
		}
	}

	return true
}

// Match tests text against the trigger. On a match the captures are
// returned keyed by name.
func (t *Trigger) Match(text string) (map[string]string, bool) {
	groups := t.re.FindStringSubmatch(text)
	if groups == nil {
		return nil, false
	}

	params := make(map[string]string, len(t.names))
	for i, name := range t.names {
		params[name] = groups[t.groups[i]]
	}

	return params, true
}
