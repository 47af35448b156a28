package pattern

import "testing"

func TestMatchExact(t *testing.T) {
	if !Match("foo-1.0", "foo-1.0") {
		t.Fatal("expected exact match")
	}
	if Match("foo-1.0", "foo-1.1") {
		t.Fatal("expected exact mismatch")
	}
}

func TestMatchBareStem(t *testing.T) {
	if !Match("foo", "foo-1.0") {
		t.Fatal("expected bare stem to match any version")
	}
}

func TestMatchGlob(t *testing.T) {
	if !Match("bar-[0-9]*", "bar-2.3") {
		t.Fatal("expected glob match")
	}
	if Match("bar-[0-9]*", "baz-2.3") {
		t.Fatal("expected glob mismatch")
	}
}

func TestMatchRelational(t *testing.T) {
	if !Match("foo>=1.0", "foo-1.5") {
		t.Fatal("expected foo-1.5 to satisfy foo>=1.0")
	}
	if Match("foo>=1.0", "foo-0.5") {
		t.Fatal("expected foo-0.5 to fail foo>=1.0")
	}
	if !Match("foo>=1.0<2.0", "foo-1.5") {
		t.Fatal("expected foo-1.5 to satisfy bounded range")
	}
	if Match("foo>=1.0<2.0", "foo-2.5") {
		t.Fatal("expected foo-2.5 to fail upper bound")
	}
}

func TestMatchBraceAlternation(t *testing.T) {
	if !Match("foo-{1.0,2.0}", "foo-2.0") {
		t.Fatal("expected brace alternation match")
	}
	if Match("foo-{1.0,2.0}", "foo-3.0") {
		t.Fatal("expected brace alternation mismatch")
	}
}

func TestMatchQuickReject(t *testing.T) {
	if Match("alphaname-1.0", "betaothername-1.0") {
		t.Fatal("expected quick-reject to rule out mismatched prefixes")
	}
}

func TestOrder(t *testing.T) {
	switch Order("foo", "foo-1.0", "foo-2.0") {
	case OrderSecond:
	default:
		t.Fatal("expected foo-2.0 to be preferred")
	}
	if Order("foo", "", "foo-1.0") != OrderSecond {
		t.Fatal("expected sole match to win")
	}
	if Order("foo", "bar-1.0", "baz-1.0") != OrderNeither {
		t.Fatal("expected neither to match")
	}
}

func TestStem(t *testing.T) {
	if Stem("foo-1.2.3nb4") != "foo" {
		t.Fatalf("unexpected stem %q", Stem("foo-1.2.3nb4"))
	}
}
