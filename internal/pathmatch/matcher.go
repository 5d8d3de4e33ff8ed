// Package pathmatch compiles skip-lists and tier path patterns into predicates.
//
// Entries without a '*' are matched exactly. Entries containing '*' are globs
// where '*' matches any run of characters, including '/'. Entries prefixed with
// "re:" are native regular expressions; they are anchored if the source is not.
package pathmatch

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const regexpPrefix = "re:"

// compiled patterns keyed by source string, shared by every Matcher in the process
var compiled sync.Map

type Matcher struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

func New(entries []string) (*Matcher, error) {
	m := &Matcher{exact: make(map[string]struct{})}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.HasPrefix(entry, regexpPrefix) && !strings.Contains(entry, "*") {
			m.exact[entry] = struct{}{}
			continue
		}

		re, err := compile(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %q: %w", entry, err)
		}
		m.patterns = append(m.patterns, re)
	}

	return m, nil
}

func MustNew(entries []string) *Matcher {
	m, err := New(entries)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether path matches any entry. Exact entries are checked first,
// then patterns in list order.
func (m *Matcher) Match(path string) bool {
	if m == nil {
		return false
	}

	if _, ok := m.exact[path]; ok {
		return true
	}

	for _, re := range m.patterns {
		if re.MatchString(path) {
			return true
		}
	}

	return false
}

func (m *Matcher) Empty() bool {
	return m == nil || (len(m.exact) == 0 && len(m.patterns) == 0)
}

func compile(src string) (*regexp.Regexp, error) {
	if cached, ok := compiled.Load(src); ok {
		return cached.(*regexp.Regexp), nil
	}

	var expr string
	if native, ok := strings.CutPrefix(src, regexpPrefix); ok {
		expr = anchor(native)
	} else {
		expr = globToRegexp(src)
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}

	actual, _ := compiled.LoadOrStore(src, re)
	return actual.(*regexp.Regexp), nil
}

func globToRegexp(glob string) string {
	parts := strings.Split(glob, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}

func anchor(expr string) string {
	if !strings.HasPrefix(expr, "^") {
		expr = "^" + expr
	}
	if !strings.HasSuffix(expr, "$") {
		expr += "$"
	}
	return expr
}
