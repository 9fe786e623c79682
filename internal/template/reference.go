// Package template resolves {{ path }} references inside workflow node
// configuration against the state of a single workflow run.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// A reference interior may span lines but never contains a closing brace.
var (
	referencePattern = regexp.MustCompile(`(?s)\{\{([^}]*)\}\}`)
	exactPattern     = regexp.MustCompile(`(?s)^\{\{([^}]*)\}\}$`)
)

// Valid template roots.
const (
	RootSteps     = "steps"
	RootTrigger   = "trigger"
	RootVariables = "variables"
	RootLoops     = "loops"
)

var validRoots = map[string]bool{
	RootSteps:     true,
	RootTrigger:   true,
	RootVariables: true,
	RootLoops:     true,
}

// Parsed is the classification of a string value: NotTemplate, Exact or
// Embedded.
type Parsed interface {
	isParsed()
}

// NotTemplate is a string without any {{ }} reference.
type NotTemplate struct {
	Value string
}

// Exact is a string that consists of a single reference and nothing else.
// Its resolved value keeps its original type.
type Exact struct {
	Path []string
}

// Embedded is a string mixing literal text with one or more references.
type Embedded struct {
	Original string
	Refs     []Reference
}

// Reference is one {{ }} occurrence inside an Embedded template. Start and
// End are byte offsets of Placeholder within the original string.
type Reference struct {
	Placeholder string
	Path        []string
	Start       int
	End         int
}

func (NotTemplate) isParsed() {}
func (Exact) isParsed()       {}
func (Embedded) isParsed()    {}

// Parse classifies s.
func Parse(s string) Parsed {
	if m := exactPattern.FindStringSubmatch(s); m != nil && !strings.Contains(m[1], "{{") {
		return Exact{Path: splitPath(m[1])}
	}

	matches := referencePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return NotTemplate{Value: s}
	}

	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Reference{
			Placeholder: s[m[0]:m[1]],
			Path:        splitPath(s[m[2]:m[3]]),
			Start:       m[0],
			End:         m[1],
		})
	}
	return Embedded{Original: s, Refs: refs}
}

// IsTemplate reports whether s contains at least one reference.
func IsTemplate(s string) bool {
	return referencePattern.MatchString(s)
}

// HasUnresolved reports whether any string inside v (walking maps and
// lists) still contains a reference.
func HasUnresolved(v any) bool {
	switch t := v.(type) {
	case string:
		return IsTemplate(t)
	case map[string]any:
		for _, e := range t {
			if HasUnresolved(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if HasUnresolved(e) {
				return true
			}
		}
	}
	return false
}

// ValidateSyntax checks that every reference in s is well formed: balanced
// delimiters, a non-empty path without empty segments and a known root.
// Strings without references are valid.
func ValidateSyntax(s string) error {
	if strings.Count(s, "{{") != strings.Count(s, "}}") {
		return fmt.Errorf("unbalanced template delimiters in %q", s)
	}
	for _, m := range referencePattern.FindAllStringSubmatch(s, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			return fmt.Errorf("empty template reference %q", m[0])
		}
		if strings.Contains(inner, "{{") {
			return fmt.Errorf("nested template reference %q", m[0])
		}
		path := splitPath(inner)
		for _, seg := range path {
			if seg == "" {
				return fmt.Errorf("invalid template path %q", inner)
			}
		}
		if !validRoots[path[0]] {
			return fmt.Errorf("invalid template root %q in %q", path[0], m[0])
		}
	}
	return nil
}

func splitPath(inner string) []string {
	parts := strings.Split(strings.TrimSpace(inner), ".")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
