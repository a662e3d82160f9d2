package quota

import (
	"testing"

	"frameworks/pkg/models"
)

func TestStaticPlanLimits_MonthlyMinutes(t *testing.T) {
	limits := NewStaticPlanLimits(20)

	cases := []struct {
		plan models.Plan
		want float64
	}{
		{models.PlanFree, 20},
		{models.PlanStarter, 120},
		{models.PlanPro, 300},
		{models.PlanPremium, 900},
		{models.PlanEnterprise, 9999},
	}
	for _, tc := range cases {
		if got := limits.MonthlyMinutes(tc.plan); got != tc.want {
			t.Errorf("MonthlyMinutes(%s) = %v, want %v", tc.plan, got, tc.want)
		}
	}
}

func TestStaticPlanLimits_UnknownPlanFallsBackToFree(t *testing.T) {
	limits := NewStaticPlanLimits(15)
	if got := limits.MonthlyMinutes(models.Plan("nonexistent")); got != 15 {
		t.Errorf("MonthlyMinutes(unknown) = %v, want free-tier 15", got)
	}
}
