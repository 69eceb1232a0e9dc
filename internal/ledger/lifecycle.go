package ledger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// UpdateCmd carries a metadata patch for a posted transaction. Amount, kind
// and participant fields are present only so attempts to edit them can be
// rejected explicitly instead of silently dropped.
type UpdateCmd struct {
	User          string
	TransactionID uuid.UUID
	Note          *string
	Category      *string

	// Protected fields. Setting any of them fails with an immutable error.
	Amount       *core.Money
	Kind         *core.TransactionKind
	Participants []uuid.UUID
}

// UpdateTransaction mutates note/category metadata only. Amount, type and
// wallet/flow references are immutable once posted; no balance
// recomputation ever happens here.
func (e *Engine) UpdateTransaction(ctx context.Context, cmd UpdateCmd) (*core.Transaction, error) {
	if cmd.Amount != nil || cmd.Kind != nil || len(cmd.Participants) > 0 {
		return nil, &core.Error{Kind: core.KindImmutable, Entity: "transaction",
			ID: cmd.TransactionID.String(), Msg: "amount, type and participants cannot be changed"}
	}

	peek, err := e.store.Transaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}

	lock := e.locks.get(peek.VaultID)
	lock.Lock()
	defer lock.Unlock()

	t, err := e.store.Transaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	if t.Voided() {
		return nil, &core.Error{Kind: core.KindInvalidState, Entity: "transaction",
			ID: t.ID.String(), Msg: "cannot update a voided transaction"}
	}

	vault, err := e.store.Vault(ctx, t.VaultID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(vault, cmd.User, t.Legs); err != nil {
		return nil, err
	}

	patch := core.MetaPatch{Note: cmd.Note, Category: cmd.Category}
	if err := e.store.UpdateTransactionMeta(ctx, t.ID, patch); err != nil {
		return nil, err
	}
	if cmd.Note != nil {
		t.Note = *cmd.Note
	}
	if cmd.Category != nil {
		t.Category = *cmd.Category
	}

	slog.InfoContext(ctx, "Transaction metadata updated",
		"transaction_id", t.ID,
		"vault_id", t.VaultID,
		"updated_by", cmd.User)
	return t, nil
}

// VoidTransaction flips the transaction to Voided and reverses its balance
// effect exactly once. Voiding an already-voided transaction fails with an
// already-voided error rather than succeeding silently; the distinction
// matters for audit correctness.
func (e *Engine) VoidTransaction(ctx context.Context, user string, transactionID uuid.UUID) (*core.Transaction, error) {
	peek, err := e.store.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	lock := e.locks.get(peek.VaultID)
	lock.Lock()
	defer lock.Unlock()

	t, err := e.store.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Voided() {
		return nil, &core.Error{Kind: core.KindAlreadyVoided, Entity: "transaction",
			ID: t.ID.String(), Msg: "transaction already voided"}
	}

	vault, err := e.store.Vault(ctx, t.VaultID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(vault, user, t.Legs); err != nil {
		return nil, err
	}

	voidedAt := e.now().UTC()
	void := core.Void{
		TransactionID: t.ID,
		VoidedAt:      voidedAt,
		VoidedBy:      user,
		Deltas:        reversalDeltas(t),
	}
	if err := e.store.VoidTransaction(ctx, void); err != nil {
		return nil, err
	}
	t.VoidedAt = &voidedAt
	t.VoidedBy = user

	slog.InfoContext(ctx, "Transaction voided",
		"transaction_id", t.ID,
		"vault_id", t.VaultID,
		"voided_by", user)
	e.afterCommit(ctx, t, true)
	return t, nil
}

// GetTransaction returns one transaction with its legs. Requires read
// access to the owning vault.
func (e *Engine) GetTransaction(ctx context.Context, user string, transactionID uuid.UUID) (*core.Transaction, error) {
	t, err := e.store.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.loadVault(ctx, t.VaultID, user); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns the vault's transactions narrowed by filter.
// Voided transactions are hidden unless the filter asks for them.
func (e *Engine) ListTransactions(ctx context.Context, user string, vaultID uuid.UUID, filter core.TransactionFilter) ([]core.Transaction, error) {
	if _, err := e.loadVault(ctx, vaultID, user); err != nil {
		return nil, err
	}
	return e.store.Transactions(ctx, vaultID, filter)
}
