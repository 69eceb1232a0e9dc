package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// EntryCmd groups the parameters of RecordIncome and RecordExpense.
type EntryCmd struct {
	VaultID    uuid.UUID
	User       string
	WalletID   uuid.UUID
	FlowID     *uuid.UUID
	Amount     core.Money
	Category   string
	Note       string
	OccurredAt time.Time
}

// RefundCmd groups the parameters of RecordRefund. The original must
// belong to the named vault.
type RefundCmd struct {
	VaultID    uuid.UUID
	User       string
	OriginalID uuid.UUID
	Amount     core.Money
	Note       string
	OccurredAt time.Time
}

// RecordIncome posts an income transaction: wallet balance += amount, and
// the cash-flow total += amount when a flow is supplied.
func (e *Engine) RecordIncome(ctx context.Context, cmd EntryCmd) (*core.Transaction, error) {
	return e.recordEntry(ctx, core.Income, cmd)
}

// RecordExpense posts an expense transaction: wallet balance -= amount,
// flow total -= amount when supplied. Overdraft is permitted; this is a
// budgeting tool, not a custodial account.
func (e *Engine) RecordExpense(ctx context.Context, cmd EntryCmd) (*core.Transaction, error) {
	return e.recordEntry(ctx, core.Expense, cmd)
}

func (e *Engine) recordEntry(ctx context.Context, kind core.TransactionKind, cmd EntryCmd) (*core.Transaction, error) {
	lock := e.locks.get(cmd.VaultID)
	lock.Lock()
	defer lock.Unlock()

	vault, err := e.store.Vault(ctx, cmd.VaultID)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(vault, cmd.Amount); err != nil {
		return nil, err
	}
	if _, ok := vault.Wallet(cmd.WalletID); !ok {
		return nil, core.NotFoundError("wallet", cmd.WalletID.String())
	}
	if cmd.FlowID != nil {
		if _, ok := vault.Flow(*cmd.FlowID); !ok {
			return nil, core.NotFoundError("cash_flow", cmd.FlowID.String())
		}
	}

	legs := entryLegs(cmd.WalletID, cmd.FlowID, signedAmount(kind, cmd.Amount.Minor))
	if err := requireWrite(vault, cmd.User, legs); err != nil {
		return nil, err
	}

	t := &core.Transaction{
		ID:         uuid.New(),
		VaultID:    cmd.VaultID,
		Kind:       kind,
		Amount:     cmd.Amount,
		OccurredAt: e.occurredAt(cmd.OccurredAt),
		Category:   cmd.Category,
		Note:       cmd.Note,
		CreatedBy:  cmd.User,
		Legs:       legs,
	}
	if err := e.store.CommitTransaction(ctx, core.Commit{Transaction: t, Deltas: applyDeltas(legs)}); err != nil {
		return nil, err
	}

	logCommit(ctx, t)
	e.afterCommit(ctx, t, false)
	return t, nil
}

// RecordRefund posts a refund reversing the original transaction's effect
// proportionally on the same wallet and flow.
//
// The refundable remainder is original.Amount minus the sum of prior
// non-voided refunds referencing it; amounts beyond the remainder fail with
// an invalid-amount error.
func (e *Engine) RecordRefund(ctx context.Context, cmd RefundCmd) (*core.Transaction, error) {
	lock := e.locks.get(cmd.VaultID)
	lock.Lock()
	defer lock.Unlock()

	vault, err := e.store.Vault(ctx, cmd.VaultID)
	if err != nil {
		return nil, err
	}

	original, err := e.store.Transaction(ctx, cmd.OriginalID)
	if err != nil {
		return nil, err
	}
	// An original living in another vault is invisible from this one.
	if original.VaultID != cmd.VaultID {
		return nil, core.NotFoundError("transaction", cmd.OriginalID.String())
	}
	if original.Voided() {
		return nil, &core.Error{Kind: core.KindInvalidState, Entity: "transaction",
			ID: original.ID.String(), Msg: "cannot refund a voided transaction"}
	}
	if original.Kind == core.Refund {
		return nil, &core.Error{Kind: core.KindInvalidState, Entity: "transaction",
			ID: original.ID.String(), Msg: "cannot refund a refund"}
	}
	// Transfers move value inside the vault; reversing one is a mirror
	// transfer, not a refund, and booking it as a refund would corrupt the
	// income/expense totals.
	if original.Kind == core.TransferWallet || original.Kind == core.TransferFlow {
		return nil, &core.Error{Kind: core.KindInvalidState, Entity: "transaction",
			ID: original.ID.String(), Msg: "cannot refund a transfer"}
	}

	if err := validateAmount(vault, cmd.Amount); err != nil {
		return nil, err
	}

	refunded, err := e.store.RefundedMinor(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	if remainder := original.Amount.Minor - refunded; cmd.Amount.Minor > remainder {
		return nil, &core.Error{Kind: core.KindInvalidAmount, Entity: "transaction", ID: original.ID.String(),
			Msg: "amount exceeds refundable remainder"}
	}

	legs := refundLegs(original, cmd.Amount.Minor)
	if err := requireWrite(vault, cmd.User, legs); err != nil {
		return nil, err
	}

	originalID := original.ID
	t := &core.Transaction{
		ID:         uuid.New(),
		VaultID:    original.VaultID,
		Kind:       core.Refund,
		Amount:     cmd.Amount,
		OccurredAt: e.occurredAt(cmd.OccurredAt),
		Category:   original.Category,
		Note:       cmd.Note,
		CreatedBy:  cmd.User,
		RefundOf:   &originalID,
		Legs:       legs,
	}
	if err := e.store.CommitTransaction(ctx, core.Commit{Transaction: t, Deltas: applyDeltas(legs)}); err != nil {
		return nil, err
	}

	logCommit(ctx, t)
	e.afterCommit(ctx, t, false)
	return t, nil
}

func (e *Engine) occurredAt(ts time.Time) time.Time {
	if ts.IsZero() {
		return e.now().UTC()
	}
	return ts.UTC()
}
