package core

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind is the closed set of financial event types. Delta
// computation switches exhaustively over it; adding a kind without teaching
// the engine how to build its legs is a compile-visible omission.
type TransactionKind string

const (
	Income         TransactionKind = "income"
	Expense        TransactionKind = "expense"
	Refund         TransactionKind = "refund"
	TransferWallet TransactionKind = "transfer_wallet"
	TransferFlow   TransactionKind = "transfer_flow"
)

// ParseTransactionKind validates a kind string coming from storage or the
// transport layer.
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch TransactionKind(s) {
	case Income, Expense, Refund, TransferWallet, TransferFlow:
		return TransactionKind(s), nil
	default:
		return "", &Error{Kind: KindInvalidState, Entity: "transaction", ID: s, Msg: "unknown transaction kind"}
	}
}

// TargetKind discriminates what a leg points at.
type TargetKind string

const (
	TargetWallet TargetKind = "wallet"
	TargetFlow   TargetKind = "flow"
)

// LegTarget identifies the wallet or cash flow a leg applies to.
type LegTarget struct {
	Kind TargetKind
	ID   uuid.UUID
}

// WalletTarget builds a wallet leg target.
func WalletTarget(id uuid.UUID) LegTarget { return LegTarget{Kind: TargetWallet, ID: id} }

// FlowTarget builds a cash-flow leg target.
func FlowTarget(id uuid.UUID) LegTarget { return LegTarget{Kind: TargetFlow, ID: id} }

// Leg is a single signed balance change applied to one target as part of a
// transaction. Every change to a wallet balance or flow total happens via a
// leg: positive increases the target, negative decreases it.
type Leg struct {
	Target LegTarget
	Minor  int64
}

// Transaction is an immutable record of a financial event once posted. Only
// note/category metadata and the lifecycle state may change afterwards; a
// transaction moves Posted -> Voided exactly once and Voided is terminal.
// History is append-only: there is no physical deletion.
type Transaction struct {
	ID         uuid.UUID
	VaultID    uuid.UUID
	Kind       TransactionKind
	Amount     Money
	OccurredAt time.Time
	Category   string
	Note       string
	CreatedBy  string
	VoidedAt   *time.Time
	VoidedBy   string
	// RefundOf references the original transaction a refund reverses.
	RefundOf *uuid.UUID
	Legs     []Leg
}

// Voided reports whether the transaction has been logically deleted.
func (t *Transaction) Voided() bool { return t.VoidedAt != nil }

// Period is a half-open time window [From, To).
type Period struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls inside the window. Zero bounds are
// treated as unbounded on that side.
func (p Period) Contains(ts time.Time) bool {
	if !p.From.IsZero() && ts.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !ts.Before(p.To) {
		return false
	}
	return true
}

// IsZero reports whether both bounds are unset.
func (p Period) IsZero() bool { return p.From.IsZero() && p.To.IsZero() }

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	WalletID      *uuid.UUID
	FlowID        *uuid.UUID
	Kind          *TransactionKind
	Period        Period
	IncludeVoided bool
}

// Matches applies the in-memory filter semantics shared by the store
// implementations.
func (f TransactionFilter) Matches(t *Transaction) bool {
	if !f.IncludeVoided && t.Voided() {
		return false
	}
	if f.Kind != nil && t.Kind != *f.Kind {
		return false
	}
	if !f.Period.IsZero() && !f.Period.Contains(t.OccurredAt) {
		return false
	}
	if f.WalletID != nil && !t.touches(WalletTarget(*f.WalletID)) {
		return false
	}
	if f.FlowID != nil && !t.touches(FlowTarget(*f.FlowID)) {
		return false
	}
	return true
}

func (t *Transaction) touches(target LegTarget) bool {
	for _, leg := range t.Legs {
		if leg.Target == target {
			return true
		}
	}
	return false
}

// BalanceDelta is one balance adjustment the store must apply atomically
// with the rest of its commit unit.
type BalanceDelta struct {
	Target LegTarget
	Minor  int64
}

// Commit is the atomic write unit for posting a transaction: the record,
// its legs and the resulting balance deltas either all persist or none do.
type Commit struct {
	Transaction *Transaction
	Deltas      []BalanceDelta
}

// Void is the atomic write unit for voiding: the state flip and the
// reversing deltas are applied together exactly once.
type Void struct {
	TransactionID uuid.UUID
	VoidedAt      time.Time
	VoidedBy      string
	Deltas        []BalanceDelta
}

// MetaPatch carries the only fields UpdateTransaction may change. Nil means
// "leave as is".
type MetaPatch struct {
	Note     *string
	Category *string
}
