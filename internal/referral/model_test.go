package referral

import (
	"strings"
	"testing"
)

func TestEvaluateDefaultTable(t *testing.T) {
	table := DefaultThresholds()
	tests := []struct {
		direct int64
		team   int64
		want   Role
	}{
		{0, 0, RoleMember},
		{2, 1000, RoleMember},
		{3, 5, RoleAdvocate},
		{3, 4, RoleMember},
		{5, 15, RoleBuilder},
		{9, 49, RoleBuilder},
		{10, 50, RoleMentor},
		{100, 15_000, RoleAmbassador},
		{1_000, 1_000_000, RoleAmbassador},
	}
	for _, tc := range tests {
		got := Evaluate(table, tc.direct, tc.team)
		if got != tc.want {
			t.Fatalf("Evaluate(%d, %d) = %v, want %v", tc.direct, tc.team, got, tc.want)
		}
	}
}

func TestEvaluateRequiresBothThresholds(t *testing.T) {
	table := []Threshold{
		{RoleMember, 0, 0},
		{RoleAdvocate, 10, 10},
		{RoleBuilder, 20, 100},
	}
	if got := Evaluate(table, 25, 50); got != RoleAdvocate {
		t.Fatalf("direct satisfied but team short: got %v, want %v", got, RoleAdvocate)
	}
	if got := Evaluate(table, 15, 500); got != RoleAdvocate {
		t.Fatalf("team satisfied but direct short: got %v, want %v", got, RoleAdvocate)
	}
	if got := Evaluate(table, 20, 100); got != RoleBuilder {
		t.Fatalf("both satisfied: got %v, want %v", got, RoleBuilder)
	}
}

func TestEvaluateMonotonic(t *testing.T) {
	table := DefaultThresholds()
	for direct := int64(0); direct <= 120; direct += 5 {
		for team := int64(0); team <= 20_000; team += 500 {
			base := Evaluate(table, direct, team)
			if up := Evaluate(table, direct+1, team); up < base {
				t.Fatalf("role decreased when direct grew: (%d,%d)=%v -> (%d,%d)=%v",
					direct, team, base, direct+1, team, up)
			}
			if up := Evaluate(table, direct, team+1); up < base {
				t.Fatalf("role decreased when team grew: (%d,%d)=%v -> (%d,%d)=%v",
					direct, team, base, direct, team+1, up)
			}
		}
	}
}

func TestValidateThresholds(t *testing.T) {
	if err := ValidateThresholds(DefaultThresholds()); err != nil {
		t.Fatalf("default table should validate: %v", err)
	}
	if err := ValidateThresholds(nil); err == nil {
		t.Fatalf("empty table should fail")
	}
	if err := ValidateThresholds([]Threshold{{RoleMember, 1, 0}}); err == nil {
		t.Fatalf("non-zero base level should fail")
	}
	decreasing := []Threshold{
		{RoleMember, 0, 0},
		{RoleAdvocate, 10, 10},
		{RoleBuilder, 5, 100},
	}
	if err := ValidateThresholds(decreasing); err == nil {
		t.Fatalf("decreasing direct threshold should fail")
	}
	outOfOrder := []Threshold{
		{RoleMember, 0, 0},
		{RoleBuilder, 10, 10},
	}
	if err := ValidateThresholds(outOfOrder); err == nil {
		t.Fatalf("skipped level should fail")
	}
}

func TestCodeValidation(t *testing.T) {
	valid := []string{"UPABCDEF", "UP234567", "UPZZZZZZ", "UPABCDEFGH"}
	for _, c := range valid {
		if !ValidCode(c) {
			t.Fatalf("expected code %q to be valid", c)
		}
	}
	invalid := []string{"", "ABCDEF", "UPABC", "UPABC0EF", "UPABC1EF", "UPOLIVER", "upabcdef"}
	for _, c := range invalid {
		if ValidCode(c) {
			t.Fatalf("expected code %q to be invalid", c)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  upAbCdEf \n"); got != "UPABCDEF" {
		t.Fatalf("got %q", got)
	}
}

func TestShareLink(t *testing.T) {
	got := ShareLink("https://upline.app/join/", "UPABCDEF")
	want := "https://upline.app/join/UPABCDEF"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestAlphabetExcludesConfusableChars(t *testing.T) {
	for _, r := range "0O1IL" {
		if strings.ContainsRune(CodeAlphabet, r) {
			t.Fatalf("alphabet must not contain %q", r)
		}
	}
}

func TestRoleString(t *testing.T) {
	if RoleMember.String() != "member" || RoleAmbassador.String() != "ambassador" {
		t.Fatalf("unexpected role names: %s, %s", RoleMember, RoleAmbassador)
	}
	if Role(42).String() != "role(42)" {
		t.Fatalf("unexpected fallback name: %s", Role(42))
	}
}
