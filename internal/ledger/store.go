// Package ledger implements the accounting engine: it validates commands,
// computes balance deltas, applies them atomically through an abstract
// durable store and keeps wallet balances and cash-flow totals consistent
// with the set of posted transactions.
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// Store is the durable layer the engine writes through. Implementations
// must make CommitTransaction and VoidTransaction atomic: either every
// balance delta and the transaction record persist, or none do. The engine
// never compensates for a torn write.
//
// Lookups return *core.Error with KindNotFound for missing entities and
// KindStoreFailure for opaque failures.
type Store interface {
	CreateVault(ctx context.Context, vault *core.Vault) error
	Vault(ctx context.Context, id uuid.UUID) (*core.Vault, error)
	VaultByName(ctx context.Context, name string) (*core.Vault, error)
	// DeleteVault removes the vault and cascades to its wallets, flows,
	// memberships and transactions. Policy enforcement happens in the engine.
	DeleteVault(ctx context.Context, id uuid.UUID) error
	HasTransactions(ctx context.Context, vaultID uuid.UUID) (bool, error)

	CreateWallet(ctx context.Context, wallet *core.Wallet) error
	CreateCashFlow(ctx context.Context, flow *core.CashFlow) error

	UpsertVaultMember(ctx context.Context, member core.VaultMember) error
	RemoveVaultMember(ctx context.Context, vaultID uuid.UUID, user string) error
	UpsertFlowMember(ctx context.Context, member core.FlowMember) error
	RemoveFlowMember(ctx context.Context, flowID uuid.UUID, user string) error

	Transaction(ctx context.Context, id uuid.UUID) (*core.Transaction, error)
	Transactions(ctx context.Context, vaultID uuid.UUID, filter core.TransactionFilter) ([]core.Transaction, error)
	// RefundedMinor returns the summed amount of posted (non-voided) refunds
	// referencing the given original transaction.
	RefundedMinor(ctx context.Context, originalID uuid.UUID) (int64, error)

	CommitTransaction(ctx context.Context, commit core.Commit) error
	VoidTransaction(ctx context.Context, void core.Void) error
	UpdateTransactionMeta(ctx context.Context, id uuid.UUID, patch core.MetaPatch) error
}
