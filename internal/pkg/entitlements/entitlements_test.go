package entitlements

import "testing"

func TestGenerationLimit(t *testing.T) {
	tests := []struct {
		plan Plan
		want int
	}{
		{PlanFree, 20},
		{PlanStarter, 200},
		{PlanPro, 2000},
		{Plan("unknown"), 20},
	}
	for _, tc := range tests {
		if got := GenerationLimit(tc.plan); got != tc.want {
			t.Errorf("GenerationLimit(%s) = %d, want %d", tc.plan, got, tc.want)
		}
	}
}

func TestCanGenerate(t *testing.T) {
	if !CanGenerate(PlanFree, 19) {
		t.Error("free plan denied below the limit")
	}
	if CanGenerate(PlanFree, 20) {
		t.Error("free plan allowed at the limit")
	}
	if !CanGenerate(PlanPro, 1999) {
		t.Error("pro plan denied below the limit")
	}
	if CanGenerate(PlanPro, 2000) {
		t.Error("pro plan allowed at the limit")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{"pro", PlanPro},
		{"PRO", PlanPro},
		{" starter ", PlanStarter},
		{"free", PlanFree},
		{"", PlanFree},
		{"enterprise", PlanFree},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestRankOrdersPlans(t *testing.T) {
	if !(Rank(PlanPro) > Rank(PlanStarter) && Rank(PlanStarter) > Rank(PlanFree)) {
		t.Errorf("plan ranks are not strictly ordered: pro=%d starter=%d free=%d",
			Rank(PlanPro), Rank(PlanStarter), Rank(PlanFree))
	}
}
