package entitlements

import "strings"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// GenerationLimit returns the number of AI generations included per usage
// period for a given plan.
func GenerationLimit(plan Plan) int {
	switch plan {
	case PlanPro:
		return 2000
	case PlanStarter:
		return 200
	default:
		return 20
	}
}

// CanGenerate reports whether a user on the given plan with the given usage
// counter may start another generation.
func CanGenerate(plan Plan, generationsUsed int) bool {
	return generationsUsed < GenerationLimit(plan)
}

// Normalize maps arbitrary plan strings onto a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanStarter):
		return PlanStarter
	case string(PlanPro):
		return PlanPro
	default:
		return PlanFree
	}
}

// Rank orders plans for "best plan wins" reconciliation.
func Rank(plan Plan) int {
	switch plan {
	case PlanPro:
		return 2
	case PlanStarter:
		return 1
	default:
		return 0
	}
}
