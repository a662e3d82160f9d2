package quota

import "frameworks/pkg/models"

// StaticPlanLimits is the production PlanLimits: a fixed monthly minute
// allowance per plan, matching the original billing tiers (free/
// starter/pro/premium/enterprise).
type StaticPlanLimits struct {
	minutes map[models.Plan]float64
}

// NewStaticPlanLimits builds a StaticPlanLimits from the out-of-the-box
// allowance table. freeMinutes overrides the free tier (bootstrap passes
// the FREE_MINUTES_LIMIT setting).
func NewStaticPlanLimits(freeMinutes float64) *StaticPlanLimits {
	return &StaticPlanLimits{
		minutes: map[models.Plan]float64{
			models.PlanFree:       freeMinutes,
			models.PlanStarter:    120,
			models.PlanPro:        300,
			models.PlanPremium:    900,
			models.PlanEnterprise: 9999,
		},
	}
}

// MonthlyMinutes implements PlanLimits.
func (s *StaticPlanLimits) MonthlyMinutes(plan models.Plan) float64 {
	if m, ok := s.minutes[plan]; ok {
		return m
	}
	return s.minutes[models.PlanFree]
}
