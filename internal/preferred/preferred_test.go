package preferred

import "testing"

func TestViolatesWhenPinnedVersionDoesNotMatch(t *testing.T) {
	rules := Rules{"py27-setuptools": "py27-setuptools-44.*"}
	if !rules.Violates("py27-setuptools-45.0") {
		t.Fatal("expected pinned package outside its range to violate")
	}
	if rules.Violates("py27-setuptools-44.1") {
		t.Fatal("expected in-range pinned package not to violate")
	}
}

func TestViolatesFalseWithoutRule(t *testing.T) {
	rules := Rules{"foo": "foo-1.*"}
	if rules.Violates("bar-1.0") {
		t.Fatal("package with no pin rule should never violate")
	}
}

func TestFilterRemovesViolators(t *testing.T) {
	rules := Rules{"py27-setuptools": "py27-setuptools-44.*"}
	in := []string{"py27-setuptools-44.1", "py27-setuptools-45.0", "bar-1.0"}
	out := rules.Filter(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d: %v", len(out), out)
	}
}
