// Package version compares pkgsrc-style dotted-numeric version strings.
//
// A version is an optional epoch ("1:2.0" means epoch 1, body "2.0"), a
// dotted sequence of numeric components each optionally followed by a single
// trailing letter (a..z, ordered as -26..-1 so the whole component sorts
// below the bare numeric it follows while staying alphabetical among
// themselves), and an optional trailing "nb<N>" pkgsrc-revision tail which is
// always compared last.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a relational version operator as used in dependency patterns and the
// compare-versions CLI verb.
type Op string

const (
	OpLess      Op = "<"
	OpLessEq    Op = "<="
	OpEqual     Op = "="
	OpGreaterEq Op = ">="
	OpGreater   Op = ">"
)

// component is a single dotted version element: a numeric value and an
// optional trailing letter suffix.
type component struct {
	numeric int
	letter  int // 0 when absent, else -26..-1 for 'a'..'z'
}

// parsed is a fully decomposed version string.
type parsed struct {
	epoch      int
	components []component
	revision   int // pkgsrc "nb<N>" tail, -1 when absent
}

// Compare returns -1, 0 or 1 according to whether a is less than, equal to,
// or greater than b.
func Compare(a, b string) int {
	pa := parse(a)
	pb := parse(b)

	if pa.epoch != pb.epoch {
		if pa.epoch < pb.epoch {
			return -1
		}
		return 1
	}

	n := len(pa.components)
	if len(pb.components) > n {
		n = len(pb.components)
	}
	for i := 0; i < n; i++ {
		var ca, cb component
		if i < len(pa.components) {
			ca = pa.components[i]
		}
		if i < len(pb.components) {
			cb = pb.components[i]
		}
		if ca.numeric != cb.numeric {
			if ca.numeric < cb.numeric {
				return -1
			}
			return 1
		}
		if ca.letter != cb.letter {
			if ca.letter < cb.letter {
				return -1
			}
			return 1
		}
	}

	ra, rb := pa.revision, pb.revision
	if ra < 0 {
		ra = 0
	}
	if rb < 0 {
		rb = 0
	}
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	return 0
}

// CompareOp evaluates "a <op> b" for op in {<, <=, =, >=, >}.
func CompareOp(a string, op Op, b string) (bool, error) {
	c := Compare(a, b)
	switch op {
	case OpLess:
		return c < 0, nil
	case OpLessEq:
		return c <= 0, nil
	case OpEqual:
		return c == 0, nil
	case OpGreaterEq:
		return c >= 0, nil
	case OpGreater:
		return c > 0, nil
	default:
		return false, fmt.Errorf("version: unsupported operator %q", op)
	}
}

// ParseOp converts a textual operator (as it appears inside a dependency
// pattern, e.g. "foo>=1.0") into an Op.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpLess, OpLessEq, OpEqual, OpGreaterEq, OpGreater:
		return Op(s), nil
	default:
		return "", fmt.Errorf("version: unsupported operator %q", s)
	}
}

func parse(s string) parsed {
	var p parsed

	s, epoch := splitEpoch(s)
	p.epoch = epoch

	body, rev := splitRevision(s)
	p.revision = rev

	for _, raw := range strings.Split(body, ".") {
		if raw == "" {
			continue
		}
		p.components = append(p.components, parseComponent(raw))
	}
	return p
}

// splitEpoch extracts a leading "N:" epoch prefix, defaulting to 0.
func splitEpoch(s string) (string, int) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return s, 0
	}
	n, err := strconv.Atoi(s[:idx])
	if err != nil {
		return s, 0
	}
	return s[idx+1:], n
}

// splitRevision extracts a trailing "nb<N>" pkgsrc revision, returning -1
// when absent.
func splitRevision(s string) (string, int) {
	idx := strings.LastIndex(s, "nb")
	if idx < 0 {
		return s, -1
	}
	rest := s[idx+2:]
	if rest == "" {
		return s, -1
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return s, -1
	}
	return s[:idx], n
}

// parseComponent splits "12b" into numeric=12, letter='b'-'a'-26; a bare
// letter with no leading digits is treated as numeric 0.
func parseComponent(raw string) component {
	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	var c component
	if i > 0 {
		n, err := strconv.Atoi(raw[:i])
		if err == nil {
			c.numeric = n
		}
	}
	if i < len(raw) {
		r := raw[i]
		if r >= 'a' && r <= 'z' {
			c.letter = int(r-'a') - 26
		}
	}
	return c
}
