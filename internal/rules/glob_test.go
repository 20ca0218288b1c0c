package rules

import "testing"

func TestMatchStarMatchesEverything(t *testing.T) {
	cases := []string{"", "a", "message.user", "tool.call.nested"}
	for _, s := range cases {
		if !Match("*", s) {
			t.Errorf("Match(\"*\", %q) = false, want true", s)
		}
	}
}

func TestMatchPrefixSuffix(t *testing.T) {
	cases := []struct {
		s    string
		want bool
	}{
		{"ab", true},
		{"axb", true},
		{"axxxb", true},
		{"a", false},
		{"b", false},
		{"ba", false},
		{"abc", false},
	}
	for _, c := range cases {
		if got := Match("a*b", c.s); got != c.want {
			t.Errorf("Match(\"a*b\", %q) = %v, want %v", c.s, got, c.want)
		}
	}
}

func TestMatchQuestionMark(t *testing.T) {
	if !Match("a?c", "abc") {
		t.Error("expected a?c to match abc")
	}
	if Match("a?c", "ac") {
		t.Error("expected a?c not to match ac")
	}
}

func TestMatchLiteral(t *testing.T) {
	if !Match("message.user", "message.user") {
		t.Error("expected exact literal match")
	}
	if Match("message.user", "message.model") {
		t.Error("expected literal mismatch to fail")
	}
}
