package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// TransferCmd groups the parameters of TransferWallet and TransferFlow.
type TransferCmd struct {
	VaultID    uuid.UUID
	User       string
	FromID     uuid.UUID
	ToID       uuid.UUID
	Amount     core.Money
	Note       string
	OccurredAt time.Time
}

// TransferWallet moves amount between two wallets of the same vault as a
// single atomic unit: a debit without the matching credit is never
// observable.
func (e *Engine) TransferWallet(ctx context.Context, cmd TransferCmd) (*core.Transaction, error) {
	if cmd.FromID == cmd.ToID {
		return nil, &core.Error{Kind: core.KindSameWallet, Entity: "wallet", ID: cmd.FromID.String(),
			Msg: "source and destination wallets must differ"}
	}

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
	if _, ok := vault.Wallet(cmd.FromID); !ok {
		return nil, core.NotFoundError("wallet", cmd.FromID.String())
	}
	if _, ok := vault.Wallet(cmd.ToID); !ok {
		return nil, core.NotFoundError("wallet", cmd.ToID.String())
	}

	legs := transferLegs(core.WalletTarget(cmd.FromID), core.WalletTarget(cmd.ToID), cmd.Amount.Minor)
	return e.commitTransfer(ctx, vault, core.TransferWallet, cmd, legs)
}

// TransferFlow moves amount between two cash-flow totals, analogous to
// TransferWallet. Flow-scoped members may transfer between flows they hold
// grants on.
func (e *Engine) TransferFlow(ctx context.Context, cmd TransferCmd) (*core.Transaction, error) {
	if cmd.FromID == cmd.ToID {
		return nil, &core.Error{Kind: core.KindSameFlow, Entity: "cash_flow", ID: cmd.FromID.String(),
			Msg: "source and destination flows must differ"}
	}

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
	if _, ok := vault.Flow(cmd.FromID); !ok {
		return nil, core.NotFoundError("cash_flow", cmd.FromID.String())
	}
	if _, ok := vault.Flow(cmd.ToID); !ok {
		return nil, core.NotFoundError("cash_flow", cmd.ToID.String())
	}

	legs := transferLegs(core.FlowTarget(cmd.FromID), core.FlowTarget(cmd.ToID), cmd.Amount.Minor)
	return e.commitTransfer(ctx, vault, core.TransferFlow, cmd, legs)
}

func (e *Engine) commitTransfer(ctx context.Context, vault *core.Vault, kind core.TransactionKind, cmd TransferCmd, legs []core.Leg) (*core.Transaction, error) {
	if err := requireWrite(vault, cmd.User, legs); err != nil {
		return nil, err
	}

	t := &core.Transaction{
		ID:         uuid.New(),
		VaultID:    cmd.VaultID,
		Kind:       kind,
		Amount:     cmd.Amount,
		OccurredAt: e.occurredAt(cmd.OccurredAt),
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
