package ledger

import (
	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// Delta computation is pure: no I/O, no clock, no store. The engine
// validates first, builds legs here, then performs one atomic write.

// entryLegs builds the legs for income, expense and refund-shaped entries:
// one wallet leg and, when a flow is involved, one flow leg carrying the
// same signed amount.
func entryLegs(walletID uuid.UUID, flowID *uuid.UUID, signedMinor int64) []core.Leg {
	legs := []core.Leg{{Target: core.WalletTarget(walletID), Minor: signedMinor}}
	if flowID != nil {
		legs = append(legs, core.Leg{Target: core.FlowTarget(*flowID), Minor: signedMinor})
	}
	return legs
}

// transferLegs builds the debit/credit pair for a transfer. Both legs carry
// the full amount so partial application is never representable.
func transferLegs(from, to core.LegTarget, amountMinor int64) []core.Leg {
	return []core.Leg{
		{Target: from, Minor: -amountMinor},
		{Target: to, Minor: amountMinor},
	}
}

// refundLegs reverses the original's legs proportionally to amountMinor.
// Every leg of the supported kinds carries the full transaction amount, so
// the scaled refund leg is exactly the refund amount with the sign flipped.
func refundLegs(original *core.Transaction, amountMinor int64) []core.Leg {
	legs := make([]core.Leg, 0, len(original.Legs))
	for _, leg := range original.Legs {
		minor := amountMinor
		if leg.Minor > 0 {
			minor = -amountMinor
		}
		legs = append(legs, core.Leg{Target: leg.Target, Minor: minor})
	}
	return legs
}

// reversalDeltas returns the balance deltas that undo a transaction's legs.
// Used by void: applying these exactly once restores every touched balance
// to its pre-transaction value.
func reversalDeltas(t *core.Transaction) []core.BalanceDelta {
	deltas := make([]core.BalanceDelta, 0, len(t.Legs))
	for _, leg := range t.Legs {
		deltas = append(deltas, core.BalanceDelta{Target: leg.Target, Minor: -leg.Minor})
	}
	return mergeDeltas(deltas)
}

// applyDeltas turns legs into the balance deltas a commit must persist.
func applyDeltas(legs []core.Leg) []core.BalanceDelta {
	deltas := make([]core.BalanceDelta, 0, len(legs))
	for _, leg := range legs {
		deltas = append(deltas, core.BalanceDelta{Target: leg.Target, Minor: leg.Minor})
	}
	return mergeDeltas(deltas)
}

// mergeDeltas folds deltas hitting the same target into one entry so the
// store applies each balance change once.
func mergeDeltas(deltas []core.BalanceDelta) []core.BalanceDelta {
	merged := make([]core.BalanceDelta, 0, len(deltas))
	index := make(map[core.LegTarget]int, len(deltas))
	for _, d := range deltas {
		if i, ok := index[d.Target]; ok {
			merged[i].Minor += d.Minor
			continue
		}
		index[d.Target] = len(merged)
		merged = append(merged, d)
	}
	return merged
}

// signedAmount maps a transaction kind to the sign its entry legs carry.
// The switch is exhaustive over the flow/wallet kinds; transfers build their
// legs elsewhere.
func signedAmount(kind core.TransactionKind, amountMinor int64) int64 {
	switch kind {
	case core.Income, core.Refund:
		return amountMinor
	case core.Expense:
		return -amountMinor
	default:
		// Transfers never reach entryLegs.
		return amountMinor
	}
}
