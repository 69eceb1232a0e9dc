package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oghma/Sparagne/internal/core"
	"github.com/Oghma/Sparagne/internal/storage/memory"
)

var testClock = func() time.Time {
	return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
}

func eur(minor int64) core.Money { return core.NewMoney(minor, core.EUR) }

// fixture provisions a vault with two wallets and two flows owned by alice.
type fixture struct {
	engine *Engine
	store  *memory.Store
	vault  *core.Vault
	cash   *core.Wallet
	bank   *core.Wallet
	food   *core.CashFlow
	rent   *core.CashFlow
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	opts = append([]Option{WithClock(testClock)}, opts...)
	engine := New(store, opts...)

	vault, err := engine.CreateVault(ctx, CreateVaultCmd{Owner: "alice", Name: "Family", Currency: core.EUR})
	require.NoError(t, err)
	cash, err := engine.CreateWallet(ctx, "alice", vault.ID, "Cash")
	require.NoError(t, err)
	bank, err := engine.CreateWallet(ctx, "alice", vault.ID, "Bank")
	require.NoError(t, err)
	food, err := engine.CreateCashFlow(ctx, "alice", vault.ID, "Food")
	require.NoError(t, err)
	rent, err := engine.CreateCashFlow(ctx, "alice", vault.ID, "Rent")
	require.NoError(t, err)

	return &fixture{engine: engine, store: store, vault: vault, cash: cash, bank: bank, food: food, rent: rent}
}

func (f *fixture) reload(t *testing.T) *core.Vault {
	t.Helper()
	vault, err := f.engine.Vault(context.Background(), "alice", f.vault.ID)
	require.NoError(t, err)
	return vault
}

func (f *fixture) walletBalance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	w, ok := f.reload(t).Wallet(id)
	require.True(t, ok)
	return w.Balance.Minor
}

func (f *fixture) flowTotal(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	fl, ok := f.reload(t).Flow(id)
	require.True(t, ok)
	return fl.Total.Minor
}

func TestRecordIncomeAndExpense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	income, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID:  f.vault.ID,
		User:     "alice",
		WalletID: f.cash.ID,
		FlowID:   &f.food.ID,
		Amount:   eur(10000),
		Category: "salary",
	})
	require.NoError(t, err)
	assert.Equal(t, core.Income, income.Kind)
	assert.Equal(t, "alice", income.CreatedBy)
	assert.Len(t, income.Legs, 2)
	assert.Equal(t, testClock(), income.OccurredAt)

	_, err = f.engine.RecordExpense(ctx, EntryCmd{
		VaultID:  f.vault.ID,
		User:     "alice",
		WalletID: f.cash.ID,
		FlowID:   &f.food.ID,
		Amount:   eur(2500),
		Category: "groceries",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7500), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(7500), f.flowTotal(t, f.food.ID))
	assert.Equal(t, int64(0), f.walletBalance(t, f.bank.ID))
	assert.Equal(t, int64(0), f.flowTotal(t, f.rent.ID))
}

func TestRecordEntry_WithoutFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tx, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID:  f.vault.ID,
		User:     "alice",
		WalletID: f.bank.ID,
		Amount:   eur(500),
	})
	require.NoError(t, err)
	assert.Len(t, tx.Legs, 1)
	assert.Equal(t, int64(500), f.walletBalance(t, f.bank.ID))
	assert.Equal(t, int64(0), f.flowTotal(t, f.food.ID))
}

func TestRecordEntry_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		cmd     EntryCmd
		wantErr error
	}{
		{
			name:    "zero amount",
			cmd:     EntryCmd{VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(0)},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			cmd:     EntryCmd{VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(-100)},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "wrong currency",
			cmd:     EntryCmd{VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: core.NewMoney(100, core.USD)},
			wantErr: core.ErrCurrencyMismatch,
		},
		{
			name:    "unknown wallet",
			cmd:     EntryCmd{VaultID: f.vault.ID, User: "alice", WalletID: uuid.New(), Amount: eur(100)},
			wantErr: core.ErrNotFound,
		},
		{
			name:    "unknown flow",
			cmd:     EntryCmd{VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, FlowID: ptr(uuid.New()), Amount: eur(100)},
			wantErr: core.ErrNotFound,
		},
		{
			name:    "unknown vault",
			cmd:     EntryCmd{VaultID: uuid.New(), User: "alice", WalletID: f.cash.ID, Amount: eur(100)},
			wantErr: core.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.RecordExpense(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing above may have moved a balance.
	assert.Equal(t, int64(0), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(0), f.flowTotal(t, f.food.ID))
}

func TestVoidTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tx, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, FlowID: &f.food.ID, Amount: eur(10000),
	})
	require.NoError(t, err)
	require.Equal(t, int64(10000), f.walletBalance(t, f.cash.ID))

	voided, err := f.engine.VoidTransaction(ctx, "alice", tx.ID)
	require.NoError(t, err)
	assert.True(t, voided.Voided())
	assert.Equal(t, "alice", voided.VoidedBy)

	// Reversal restores every touched balance exactly.
	assert.Equal(t, int64(0), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(0), f.flowTotal(t, f.food.ID))

	// Voiding twice fails and moves nothing.
	_, err = f.engine.VoidTransaction(ctx, "alice", tx.ID)
	assert.ErrorIs(t, err, core.ErrAlreadyVoided)
	assert.Equal(t, int64(0), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(0), f.flowTotal(t, f.food.ID))

	// The record survives as history.
	kept, err := f.engine.GetTransaction(ctx, "alice", tx.ID)
	require.NoError(t, err)
	assert.True(t, kept.Voided())
}

func TestVoidThenReissue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cmd := EntryCmd{VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, FlowID: &f.food.ID, Amount: eur(4200)}

	first, err := f.engine.RecordExpense(ctx, cmd)
	require.NoError(t, err)
	_, err = f.engine.VoidTransaction(ctx, "alice", first.ID)
	require.NoError(t, err)
	_, err = f.engine.RecordExpense(ctx, cmd)
	require.NoError(t, err)

	// Void followed by an identical re-post leaves the same balances as a
	// single post.
	assert.Equal(t, int64(-4200), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(-4200), f.flowTotal(t, f.food.ID))
}

func TestTransferWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(5000),
	})
	require.NoError(t, err)

	tx, err := f.engine.TransferWallet(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "alice", FromID: f.cash.ID, ToID: f.bank.ID, Amount: eur(3000),
	})
	require.NoError(t, err)
	assert.Equal(t, core.TransferWallet, tx.Kind)

	assert.Equal(t, int64(2000), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(3000), f.walletBalance(t, f.bank.ID))

	_, err = f.engine.TransferWallet(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "alice", FromID: f.cash.ID, ToID: f.cash.ID, Amount: eur(100),
	})
	assert.ErrorIs(t, err, core.ErrSameWallet)
}

func TestTransferFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, FlowID: &f.food.ID, Amount: eur(8000),
	})
	require.NoError(t, err)

	_, err = f.engine.TransferFlow(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "alice", FromID: f.food.ID, ToID: f.rent.ID, Amount: eur(2000),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(6000), f.flowTotal(t, f.food.ID))
	assert.Equal(t, int64(2000), f.flowTotal(t, f.rent.ID))
	// Flow transfers never touch wallets.
	assert.Equal(t, int64(8000), f.walletBalance(t, f.cash.ID))

	_, err = f.engine.TransferFlow(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "alice", FromID: f.food.ID, ToID: f.food.ID, Amount: eur(100),
	})
	assert.ErrorIs(t, err, core.ErrSameFlow)
}

func TestTransferAtomicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(5000),
	})
	require.NoError(t, err)

	f.store.FailNextWrite(errors.New("disk full"))
	_, err = f.engine.TransferWallet(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "alice", FromID: f.cash.ID, ToID: f.bank.ID, Amount: eur(3000),
	})
	assert.ErrorIs(t, err, core.ErrStoreFailure)

	// A rejected commit leaves no debit without its credit and no record.
	assert.Equal(t, int64(5000), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(0), f.walletBalance(t, f.bank.ID))
	txs, err := f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRecordRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	expense, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, FlowID: &f.food.ID, Amount: eur(2500),
	})
	require.NoError(t, err)

	refund, err := f.engine.RecordRefund(ctx, RefundCmd{
		VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(1000), Note: "returned item",
	})
	require.NoError(t, err)
	assert.Equal(t, core.Refund, refund.Kind)
	require.NotNil(t, refund.RefundOf)
	assert.Equal(t, expense.ID, *refund.RefundOf)
	assert.Equal(t, expense.Category, refund.Category)

	assert.Equal(t, int64(-1500), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(-1500), f.flowTotal(t, f.food.ID))

	// Remainder is 1500; anything above fails.
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(1501)})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(1500)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.walletBalance(t, f.cash.ID))

	// Fully refunded: nothing left.
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(1)})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestRecordRefund_InvalidTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	expense, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(2000),
	})
	require.NoError(t, err)
	refund, err := f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(500)})
	require.NoError(t, err)

	// Refunding a refund is rejected; chains reference the original instead.
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: refund.ID, Amount: eur(100)})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	// A voided original cannot be refunded.
	voided, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(300),
	})
	require.NoError(t, err)
	_, err = f.engine.VoidTransaction(ctx, "alice", voided.ID)
	require.NoError(t, err)
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: voided.ID, Amount: eur(100)})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: uuid.New(), Amount: eur(100)})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRecordRefund_TransferOriginal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(5000),
	})
	require.NoError(t, err)
	transfer, err := f.engine.TransferWallet(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "alice", FromID: f.cash.ID, ToID: f.bank.ID, Amount: eur(1000),
	})
	require.NoError(t, err)

	// Undoing a transfer is a mirror transfer, not a refund.
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: transfer.ID, Amount: eur(1000)})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	stats, err := f.engine.Statistics(ctx, "alice", f.vault.ID, core.Period{})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), stats.TotalIncome.Minor)
	assert.Equal(t, int64(0), stats.TotalExpenses.Minor)
	assert.Equal(t, int64(4000), f.walletBalance(t, f.cash.ID))
	assert.Equal(t, int64(1000), f.walletBalance(t, f.bank.ID))
}

func TestRecordRefund_WrongVault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	expense, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(2000),
	})
	require.NoError(t, err)

	other, err := f.engine.CreateVault(ctx, CreateVaultCmd{Owner: "alice", Name: "Side", Currency: core.EUR})
	require.NoError(t, err)

	// A refund addressed through the wrong vault fails before anything is
	// written; the original's wallet stays untouched.
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: other.ID, User: "alice", OriginalID: expense.ID, Amount: eur(500)})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, int64(-2000), f.walletBalance(t, f.cash.ID))
}

func TestRecordRefund_VoidedRefundRestoresRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	expense, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(2000),
	})
	require.NoError(t, err)
	refund, err := f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(2000)})
	require.NoError(t, err)

	// Fully consumed...
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(1)})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	// ...until the refund itself is voided, which frees the remainder again.
	_, err = f.engine.VoidTransaction(ctx, "alice", refund.ID)
	require.NoError(t, err)
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(2000)})
	assert.NoError(t, err)
}

func TestUpdateTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tx, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(1000), Note: "old",
	})
	require.NoError(t, err)

	updated, err := f.engine.UpdateTransaction(ctx, UpdateCmd{
		User: "alice", TransactionID: tx.ID, Note: ptr("new"), Category: ptr("household"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Note)
	assert.Equal(t, "household", updated.Category)
	// Metadata edits never touch balances.
	assert.Equal(t, int64(-1000), f.walletBalance(t, f.cash.ID))

	for _, cmd := range []UpdateCmd{
		{User: "alice", TransactionID: tx.ID, Amount: ptr(eur(999))},
		{User: "alice", TransactionID: tx.ID, Kind: ptr(core.Income)},
		{User: "alice", TransactionID: tx.ID, Participants: []uuid.UUID{f.bank.ID}},
	} {
		_, err := f.engine.UpdateTransaction(ctx, cmd)
		assert.ErrorIs(t, err, core.ErrImmutable)
	}

	_, err = f.engine.VoidTransaction(ctx, "alice", tx.ID)
	require.NoError(t, err)
	_, err = f.engine.UpdateTransaction(ctx, UpdateCmd{User: "alice", TransactionID: tx.ID, Note: ptr("late")})
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestListTransactions_Filtering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	income, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(5000),
		OccurredAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.bank.ID, FlowID: &f.food.ID, Amount: eur(700),
		OccurredAt: time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = f.engine.VoidTransaction(ctx, "alice", income.ID)
	require.NoError(t, err)

	// Voided hidden by default.
	txs, err := f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	txs, err = f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{IncludeVoided: true})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	txs, err = f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{WalletID: &f.bank.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, core.Expense, txs[0].Kind)

	txs, err = f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{FlowID: &f.rent.ID})
	require.NoError(t, err)
	assert.Empty(t, txs)

	txs, err = f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{
		IncludeVoided: true,
		Period: core.Period{
			From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, core.Income, txs[0].Kind)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, FlowID: &f.food.ID, Amount: eur(10000),
	})
	require.NoError(t, err)
	expense, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, FlowID: &f.food.ID, Amount: eur(3000),
	})
	require.NoError(t, err)
	_, err = f.engine.RecordRefund(ctx, RefundCmd{VaultID: f.vault.ID, User: "alice", OriginalID: expense.ID, Amount: eur(500)})
	require.NoError(t, err)

	voided, err := f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.bank.ID, Amount: eur(9999),
	})
	require.NoError(t, err)
	_, err = f.engine.VoidTransaction(ctx, "alice", voided.ID)
	require.NoError(t, err)

	stats, err := f.engine.Statistics(ctx, "alice", f.vault.ID, core.Period{})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stats.TotalIncome.Minor)
	// The refund shrinks expenses; the voided expense contributes nothing.
	assert.Equal(t, int64(2500), stats.TotalExpenses.Minor)
	assert.Equal(t, int64(7500), stats.Balance.Minor)

	require.Len(t, stats.PerWallet, 2)
	perWallet := map[string]int64{}
	for _, w := range stats.PerWallet {
		perWallet[w.Name] = w.Total.Minor
	}
	assert.Equal(t, int64(7500), perWallet["Cash"])
	assert.Equal(t, int64(0), perWallet["Bank"])

	require.Len(t, stats.PerFlow, 2)
	perFlow := map[string]int64{}
	for _, fl := range stats.PerFlow {
		perFlow[fl.Name] = fl.Total.Minor
	}
	assert.Equal(t, int64(7500), perFlow["Food"])
	assert.Equal(t, int64(0), perFlow["Rent"])
}

func TestStatistics_CacheInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithStatisticsCache(time.Minute, 16))

	_, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(1000),
	})
	require.NoError(t, err)

	stats, err := f.engine.Statistics(ctx, "alice", f.vault.ID, core.Period{})
	require.NoError(t, err)
	require.Equal(t, int64(1000), stats.TotalIncome.Minor)

	// A commit bumps the vault generation, so the next read recomputes
	// instead of serving the cached rollup.
	_, err = f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(500),
	})
	require.NoError(t, err)

	stats, err = f.engine.Statistics(ctx, "alice", f.vault.ID, core.Period{})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), stats.TotalIncome.Minor)
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Strangers see and touch nothing.
	_, err := f.engine.Vault(ctx, "mallory", f.vault.ID)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "mallory", WalletID: f.cash.ID, Amount: eur(100),
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// A vault member writes anywhere but does not manage memberships.
	require.NoError(t, f.engine.UpsertVaultMember(ctx, "alice", f.vault.ID, "bob", core.RoleMember))
	_, err = f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "bob", WalletID: f.cash.ID, Amount: eur(100),
	})
	assert.NoError(t, err)
	err = f.engine.UpsertVaultMember(ctx, "bob", f.vault.ID, "carol", core.RoleMember)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	err = f.engine.DeleteVault(ctx, "bob", f.vault.ID)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// Removal revokes access but leaves bob's history untouched.
	require.NoError(t, f.engine.RemoveVaultMember(ctx, "alice", f.vault.ID, "bob"))
	_, err = f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "bob", WalletID: f.cash.ID, Amount: eur(100),
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	txs, err := f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "bob", txs[0].CreatedBy)
}

func TestAuthorization_FlowScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.UpsertFlowMember(ctx, "alice", f.vault.ID, f.food.ID, "carol", core.RoleMember))
	require.NoError(t, f.engine.UpsertFlowMember(ctx, "alice", f.vault.ID, f.rent.ID, "carol", core.RoleMember))

	// Flow-scoped grants allow reads and flow-only writes.
	_, err := f.engine.Vault(ctx, "carol", f.vault.ID)
	assert.NoError(t, err)
	_, err = f.engine.TransferFlow(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "carol", FromID: f.food.ID, ToID: f.rent.ID, Amount: eur(100),
	})
	assert.NoError(t, err)

	// Any wallet leg is outside the grant.
	_, err = f.engine.RecordExpense(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "carol", WalletID: f.cash.ID, FlowID: &f.food.ID, Amount: eur(100),
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// So is a flow the grant does not cover.
	require.NoError(t, f.engine.RemoveFlowMember(ctx, "alice", f.vault.ID, f.rent.ID, "carol"))
	_, err = f.engine.TransferFlow(ctx, TransferCmd{
		VaultID: f.vault.ID, User: "carol", FromID: f.food.ID, ToID: f.rent.ID, Amount: eur(100),
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestMembership_OwnerProtection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.engine.UpsertVaultMember(ctx, "alice", f.vault.ID, "alice", core.RoleMember)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	err = f.engine.RemoveVaultMember(ctx, "alice", f.vault.ID, "alice")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestCreateVault_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.CreateVault(ctx, CreateVaultCmd{Owner: "alice", Name: "Family", Currency: core.EUR})
	assert.ErrorIs(t, err, core.ErrExists)
	// Names collide ignoring case too.
	_, err = f.engine.CreateVault(ctx, CreateVaultCmd{Owner: "alice", Name: "FAMILY", Currency: core.EUR})
	assert.ErrorIs(t, err, core.ErrExists)
	_, err = f.engine.CreateVault(ctx, CreateVaultCmd{Owner: "alice", Name: "  ", Currency: core.EUR})
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = f.engine.CreateVault(ctx, CreateVaultCmd{Owner: "alice", Name: "Other", Currency: "XXX"})
	assert.Error(t, err)

	_, err = f.engine.CreateWallet(ctx, "alice", f.vault.ID, "Cash")
	assert.ErrorIs(t, err, core.ErrExists)
	_, err = f.engine.CreateCashFlow(ctx, "alice", f.vault.ID, "Food")
	assert.ErrorIs(t, err, core.ErrExists)
}

func TestDeleteVault_Policies(t *testing.T) {
	ctx := context.Background()

	t.Run("deny if used", func(t *testing.T) {
		f := newFixture(t)
		err := f.engine.DeleteVault(ctx, "alice", f.vault.ID)
		assert.ErrorIs(t, err, core.ErrInvalidState)

		empty, err := f.engine.CreateVault(ctx, CreateVaultCmd{Owner: "alice", Name: "Empty", Currency: core.EUR})
		require.NoError(t, err)
		assert.NoError(t, f.engine.DeleteVault(ctx, "alice", empty.ID))
	})

	t.Run("cascade", func(t *testing.T) {
		f := newFixture(t, WithDeletePolicy(DeleteCascade))
		tx, err := f.engine.RecordIncome(ctx, EntryCmd{
			VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(100),
		})
		require.NoError(t, err)

		require.NoError(t, f.engine.DeleteVault(ctx, "alice", f.vault.ID))
		_, err = f.engine.Vault(ctx, "alice", f.vault.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.engine.GetTransaction(ctx, "alice", tx.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

// TestBalanceInvariant_RandomSequence drives the engine through a seeded
// random mix of operations and then checks the defining property of the
// ledger: every balance equals the sum of leg deltas of non-voided
// transactions touching it.
func TestBalanceInvariant_RandomSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))

	wallets := []uuid.UUID{f.cash.ID, f.bank.ID}
	flows := []uuid.UUID{f.food.ID, f.rent.ID}
	var posted []uuid.UUID

	for i := 0; i < 300; i++ {
		amount := eur(int64(rng.Intn(5000) + 1))
		wallet := wallets[rng.Intn(len(wallets))]
		var flowID *uuid.UUID
		if rng.Intn(2) == 0 {
			flowID = &flows[rng.Intn(len(flows))]
		}

		switch rng.Intn(5) {
		case 0:
			tx, err := f.engine.RecordIncome(ctx, EntryCmd{
				VaultID: f.vault.ID, User: "alice", WalletID: wallet, FlowID: flowID, Amount: amount,
			})
			require.NoError(t, err)
			posted = append(posted, tx.ID)
		case 1:
			tx, err := f.engine.RecordExpense(ctx, EntryCmd{
				VaultID: f.vault.ID, User: "alice", WalletID: wallet, FlowID: flowID, Amount: amount,
			})
			require.NoError(t, err)
			posted = append(posted, tx.ID)
		case 2:
			tx, err := f.engine.TransferWallet(ctx, TransferCmd{
				VaultID: f.vault.ID, User: "alice", FromID: wallets[0], ToID: wallets[1], Amount: amount,
			})
			require.NoError(t, err)
			posted = append(posted, tx.ID)
		case 3:
			tx, err := f.engine.TransferFlow(ctx, TransferCmd{
				VaultID: f.vault.ID, User: "alice", FromID: flows[0], ToID: flows[1], Amount: amount,
			})
			require.NoError(t, err)
			posted = append(posted, tx.ID)
		case 4:
			if len(posted) == 0 {
				continue
			}
			// Void a random earlier transaction; tolerate double voids.
			_, err := f.engine.VoidTransaction(ctx, "alice", posted[rng.Intn(len(posted))])
			if err != nil {
				assert.ErrorIs(t, err, core.ErrAlreadyVoided)
			}
		}
	}

	txs, err := f.engine.ListTransactions(ctx, "alice", f.vault.ID, core.TransactionFilter{})
	require.NoError(t, err)

	sums := make(map[core.LegTarget]int64)
	for i := range txs {
		for _, leg := range txs[i].Legs {
			sums[leg.Target] += leg.Minor
		}
	}

	vault := f.reload(t)
	for _, w := range vault.Wallets {
		assert.Equal(t, sums[core.WalletTarget(w.ID)], w.Balance.Minor, "wallet %s", w.Name)
	}
	for _, fl := range vault.Flows {
		assert.Equal(t, sums[core.FlowTarget(fl.ID)], fl.Total.Minor, "flow %s", fl.Name)
	}
}

type recordingNotifier struct {
	posted []uuid.UUID
	voided []uuid.UUID
}

func (n *recordingNotifier) TransactionPosted(_ context.Context, t *core.Transaction) {
	n.posted = append(n.posted, t.ID)
}

func (n *recordingNotifier) TransactionVoided(_ context.Context, t *core.Transaction) {
	n.voided = append(n.voided, t.ID)
}

func TestNotifierHooks(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	f := newFixture(t, WithNotifier(notifier))

	tx, err := f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(100),
	})
	require.NoError(t, err)
	_, err = f.engine.VoidTransaction(ctx, "alice", tx.ID)
	require.NoError(t, err)

	require.Len(t, notifier.posted, 1)
	assert.Equal(t, tx.ID, notifier.posted[0])
	require.Len(t, notifier.voided, 1)
	assert.Equal(t, tx.ID, notifier.voided[0])

	// Failed commits never notify.
	f.store.FailNextWrite(errors.New("boom"))
	_, err = f.engine.RecordIncome(ctx, EntryCmd{
		VaultID: f.vault.ID, User: "alice", WalletID: f.cash.ID, Amount: eur(100),
	})
	require.Error(t, err)
	assert.Len(t, notifier.posted, 1)
}

func ptr[T any](v T) *T { return &v }
