// Package pattern implements dependency-pattern matching against package
// fullnames: exact names, shell globs, brace alternation, and relational
// version constraints.
package pattern

import (
	"path"
	"strings"

	"github.com/opkg-go/opkg/internal/version"
)

// quickRejectLen is the number of leading alphanumeric/'-' characters
// compared before attempting the more expensive match stages. Matches the
// original implementation's observation that most repositories share long
// common name prefixes (py-, py3-, ruby27-, ...), so an early mismatch on
// this prefix rules out the overwhelming majority of candidates cheaply.
const quickRejectLen = 8

// Match reports whether fullname satisfies pattern.
func Match(pattern, fullname string) bool {
	if !quickMatch(pattern, fullname) {
		return false
	}

	if strings.ContainsRune(pattern, '{') {
		return alternateMatch(pattern, fullname)
	}
	if strings.ContainsAny(pattern, "<>") {
		return relationalMatch(pattern, fullname)
	}
	if strings.ContainsAny(pattern, "*?[]") {
		if globMatch(pattern, fullname) {
			return true
		}
	}
	if pattern == fullname {
		return true
	}
	// A pattern may omit the version, e.g. "foo" should match "foo-1.0".
	return globMatch(pattern+"-[0-9]*", fullname)
}

func quickMatch(pattern, fullname string) bool {
	n := quickRejectLen
	if len(pattern) < n {
		n = len(pattern)
	}
	if len(fullname) < n {
		n = len(fullname)
	}
	for i := 0; i < n; i++ {
		p := pattern[i]
		if !isSimple(p) {
			return true
		}
		if p != fullname[i] {
			return false
		}
	}
	return true
}

func isSimple(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '-'
}

func globMatch(pattern, fullname string) bool {
	ok, err := path.Match(pattern, fullname)
	return err == nil && ok
}

// alternateMatch expands a possibly-nested "{a,b,c}" brace group and
// recurses Match on each alternative.
func alternateMatch(pattern, fullname string) bool {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		return false
	}
	depth := 0
	close := -1
	for i := open; i < len(pattern); i++ {
		switch pattern[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				close = i
			}
		}
		if close >= 0 {
			break
		}
	}
	if close < 0 {
		return false
	}

	prefix := pattern[:open]
	suffix := pattern[close+1:]
	body := pattern[open+1 : close]

	for _, alt := range splitAlternatives(body) {
		candidate := prefix + alt + suffix
		if Match(candidate, fullname) {
			return true
		}
	}
	return false
}

// splitAlternatives splits a brace body on top-level commas, respecting
// nested braces.
func splitAlternatives(body string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, body[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, body[start:])
	return out
}

// relationalMatch handles "name>=V", "name<V", and double-bounded forms like
// "name>=V<W" by splitting at the first relational operator, testing the
// name prefix, then testing each bound in turn.
func relationalMatch(pattern, fullname string) bool {
	name, bounds := splitRelational(pattern)
	if !strings.HasPrefix(fullname, name+"-") {
		return false
	}
	fullVersion := fullname[len(name)+1:]

	for _, b := range bounds {
		ok, err := version.CompareOp(fullVersion, b.op, b.value)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

type bound struct {
	op    version.Op
	value string
}

// splitRelational splits "name>=1.0<2.0" into name="name" and the ordered
// bounds [">=1.0", "<2.0"].
func splitRelational(pattern string) (string, []bound) {
	idx := strings.IndexAny(pattern, "<>")
	if idx < 0 {
		return pattern, nil
	}
	name := pattern[:idx]
	rest := pattern[idx:]

	var bounds []bound
	for len(rest) > 0 {
		opLen := 1
		if len(rest) > 1 && rest[1] == '=' {
			opLen = 2
		}
		op, err := version.ParseOp(rest[:opLen])
		if err != nil {
			break
		}
		rest = rest[opLen:]

		next := strings.IndexAny(rest, "<>")
		var value string
		if next < 0 {
			value = rest
			rest = ""
		} else {
			value = rest[:next]
			rest = rest[next:]
		}
		bounds = append(bounds, bound{op: op, value: value})
	}
	return name, bounds
}

// Ordering identifies which of two matching fullnames is greater, per
// Order.
type Ordering int

const (
	OrderNeither Ordering = iota
	OrderFirst
	OrderSecond
)

// Order picks the greater of two package fullnames that both (may) match
// pattern. If only one matches, that one wins; if neither matches, it
// returns OrderNeither; ties break in favor of the first argument.
func Order(pattern, first, second string) Ordering {
	firstMatches := first != "" && Match(pattern, first)
	secondMatches := second != "" && Match(pattern, second)

	switch {
	case !firstMatches && !secondMatches:
		return OrderNeither
	case !firstMatches:
		return OrderSecond
	case !secondMatches:
		return OrderFirst
	}

	firstVersion := stemVersion(first)
	secondVersion := stemVersion(second)
	switch version.Compare(firstVersion, secondVersion) {
	case 1:
		return OrderFirst
	case -1:
		return OrderSecond
	default:
		return OrderFirst
	}
}

func stemVersion(full string) string {
	idx := strings.LastIndexByte(full, '-')
	if idx < 0 {
		return full
	}
	return full[idx+1:]
}

// Stem returns full with its trailing "-VERSION" suffix removed.
func Stem(full string) string {
	idx := strings.LastIndexByte(full, '-')
	if idx < 0 {
		return full
	}
	return full[:idx]
}
