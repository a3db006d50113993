package validation

import (
	"strings"
	"testing"
)

func mkLen(ch string, n int) string { return strings.Repeat(ch, n) }

func TestValidScopeName_Valid(t *testing.T) {
	valids := []string{
		"a",
		"ab",
		"projects",
		"projects:read",
		"projects:draft_write",
		"a_b-c.d:scope2",
		mkLen("a", 62) + "b",
	}
	for _, v := range valids {
		if !ValidScopeName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
}

func TestValidScopeName_Invalid(t *testing.T) {
	invalids := []string{
		"",
		":lead",
		"trail:",
		"bad space",
		"UPPER",
		"semicolon;hack",
		mkLen("a", 65),
	}
	for _, v := range invalids {
		if ValidScopeName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestNormalizeScopes(t *testing.T) {
	got, err := NormalizeScopes([]string{" projects:read ", "coupons:write", "projects:read", ""})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"coupons:write", "projects:read"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	if _, err := NormalizeScopes([]string{"OK:NOT"}); err == nil {
		t.Fatal("expected error for uppercase scope")
	}
}

func TestScopesSubset(t *testing.T) {
	have := []string{"projects:read", "projects:publish"}
	if !ScopesSubset([]string{"projects:read"}, have) {
		t.Fatal("subset expected")
	}
	if ScopesSubset([]string{"coupons:write"}, have) {
		t.Fatal("not a subset")
	}
	if !HasScope(have, "projects:publish") || HasScope(have, "nope") {
		t.Fatal("HasScope misbehaves")
	}
}
