package billing

import (
	"fieldnotes/internal/types"
)

// NextStatus computes the subscription status after applying an event of the
// given kind to an account currently in the given status. It is the single
// authority for status transitions; nothing else moves an account between
// statuses.
//
// hint carries the status reported by the processor for sync events
// (subscription_updated); it is ignored for every other kind.
func NextStatus(current types.SubscriptionStatus, kind types.EventKind, hint types.SubscriptionStatus) types.SubscriptionStatus {
	switch kind {
	case types.EventCheckoutCompleted:
		// A fresh checkout always restarts the cycle, including after a
		// cancellation.
		return types.SubStatusTrialing

	case types.EventSubscriptionRenewed:
		// Cancellation is terminal until a new checkout. A late renewal
		// invoice for the old subscription must not reactivate the account.
		if current == types.SubStatusCanceled {
			return current
		}
		return types.SubStatusActive

	case types.EventPaymentSucceeded:
		// A successful payment outside a renewal cycle clears dunning.
		if current == types.SubStatusPastDue {
			return types.SubStatusActive
		}
		return current

	case types.EventPaymentFailed:
		return types.SubStatusPastDue

	case types.EventSubscriptionUpdated:
		if hint != "" {
			return hint
		}
		return current

	case types.EventSubscriptionCanceled:
		return types.SubStatusCanceled

	default:
		return current
	}
}
