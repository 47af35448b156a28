// Package preferred enforces user-pinned version ranges, loaded from the
// preferred-versions config file (internal/config.LoadPreferred) and
// applied wherever a candidate fullname is about to be selected.
package preferred

import (
	"github.com/opkg-go/opkg/internal/pattern"
)

// Rules maps a normalized package name to the glob/relational pattern the
// user pinned it to.
type Rules map[string]string

// Lookup returns the pin rule for name, if any.
func (r Rules) Lookup(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	p, ok := r[name]
	return p, ok
}

// Violates reports whether full is pinned by a rule it does not satisfy.
// A pin on a name the candidate doesn't have, or no pin at all, never
// violates.
func (r Rules) Violates(full string) bool {
	name := pattern.Stem(full)
	rule, ok := r.Lookup(name)
	if !ok {
		return false
	}
	return !pattern.Match(rule, full)
}

// Filter removes every candidate that violates its pin rule, preserving
// order.
func (r Rules) Filter(candidates []string) []string {
	out := candidates[:0:0]
	for _, c := range candidates {
		if !r.Violates(c) {
			out = append(out, c)
		}
	}
	return out
}
