// Package billing implements the credit grant engine: the plan catalog, the
// subscription state machine, event normalization, and the atomic event
// processor that turns verified processor events into exactly-once ledger
// mutations.
package billing

import (
	"fieldnotes/internal/types"
)

// TrialCredits is the one-shot grant applied when a checkout completes.
// Granted at most once per account lifetime, tracked by the account's
// trial_credits_granted_at marker.
const TrialCredits = 20

// planMonthlyCredits maps a plan tier to the credits added each billing
// cycle. PlanNone is deliberately absent: an account without a plan earns
// nothing.
var planMonthlyCredits = map[types.PlanTier]int{
	types.PlanStandard: 20,
	types.PlanPlus:     50,
}

// MonthlyCredits returns the per-cycle grant for a plan, or 0 for tiers
// that earn nothing.
func MonthlyCredits(plan types.PlanTier) int {
	return planMonthlyCredits[plan]
}
