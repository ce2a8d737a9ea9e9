package progress_test

import (
	"testing"

	"vector/internal/engine/progress"
)

func strPtr(s string) *string { return &s }

func TestIsMetNumeric(t *testing.T) {
	cases := []struct {
		op      string
		target  string
		current string
		want    bool
	}{
		{">=", "90", "92", true},
		{">=", "90", "88", false},
		{">=", "90", "90", true},
		{">", "90", "90", false},
		{">", "90", "90.5", true},
		{"<", "3", "2", true},
		{"<", "3", "3", false},
		{"<=", "3", "3", true},
		{"<=", "3", "3.01", false},
		{"=", "0", "0.0", true},
		{"=", "0.3", "0.30000000000000004", false},
		{"=", "10", " 10 ", true},
		{"!=", "10", "11", false},
	}
	for _, tc := range cases {
		if got := progress.IsMet(tc.op, tc.target, strPtr(tc.current)); got != tc.want {
			t.Errorf("IsMet(%q, %q, %q) = %v, want %v", tc.op, tc.target, tc.current, got, tc.want)
		}
	}
}

func TestIsMetAbsentValueNeverMet(t *testing.T) {
	for _, op := range append(progress.Operators, "bogus") {
		if progress.IsMet(op, "pass", nil) {
			t.Fatalf("op %s met with no recording", op)
		}
		if progress.IsMet(op, "0", nil) {
			t.Fatalf("op %s met with no recording", op)
		}
	}
}

func TestIsMetText(t *testing.T) {
	cases := []struct {
		op      string
		target  string
		current string
		want    bool
	}{
		{"=", "Pass", "pass", true},
		{"=", "negative", "NEGATIVE", true},
		{"=", "negative", "positive", false},
		{">", "pass", "fail", false},
		{">", "pass", "PASS", true},
		{"<=", "Pass", "pass", true},
		{">", "fail", "fail", false},
		{"=", "90", "ninety", false},
		{">=", "pass", "", false},
	}
	for _, tc := range cases {
		if got := progress.IsMet(tc.op, tc.target, strPtr(tc.current)); got != tc.want {
			t.Errorf("IsMet(%q, %q, %q) = %v, want %v", tc.op, tc.target, tc.current, got, tc.want)
		}
	}
}

func TestParseValue(t *testing.T) {
	if v := progress.ParseValue("12.5"); v.Kind != progress.Numeric || v.Num != 12.5 {
		t.Fatalf("expected numeric 12.5, got %+v", v)
	}
	if v := progress.ParseValue("pass"); v.Kind != progress.Text || v.Raw != "pass" {
		t.Fatalf("expected text, got %+v", v)
	}
}

func TestDeriveStatuses(t *testing.T) {
	statuses, idx := progress.DeriveStatuses([]string{"A", "B", "C", "D"}, "C")
	want := []progress.Status{progress.StatusCompleted, progress.StatusCompleted, progress.StatusActive, progress.StatusLocked}
	if idx != 2 {
		t.Fatalf("active index = %d, want 2", idx)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("status[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestDeriveStatusesFirstPhase(t *testing.T) {
	statuses, idx := progress.DeriveStatuses([]string{"A", "B"}, "A")
	if idx != 0 || statuses[0] != progress.StatusActive || statuses[1] != progress.StatusLocked {
		t.Fatalf("unexpected %v %d", statuses, idx)
	}
}

func TestDeriveStatusesUnknownCurrent(t *testing.T) {
	statuses, idx := progress.DeriveStatuses([]string{"A", "B", "C"}, "Z")
	if idx != progress.NotFound {
		t.Fatalf("active index = %d, want NotFound", idx)
	}
	for i, s := range statuses {
		if s != progress.StatusCompleted {
			t.Fatalf("status[%d] = %s, want completed", i, s)
		}
	}
}

func TestDeriveStatusesEmpty(t *testing.T) {
	statuses, idx := progress.DeriveStatuses(nil, "A")
	if len(statuses) != 0 || idx != progress.NotFound {
		t.Fatalf("unexpected %v %d", statuses, idx)
	}
}
