package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Oghma/Sparagne/internal/core"
	"github.com/Oghma/Sparagne/internal/events"
	"github.com/Oghma/Sparagne/internal/ledger"
	"github.com/Oghma/Sparagne/internal/storage/memory"
)

func TestAuditWorker_HandleEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := ledger.New(store)

	vault, err := engine.CreateVault(ctx, ledger.CreateVaultCmd{
		Name: "household", Owner: "alice", Currency: core.EUR,
	})
	require.NoError(t, err)
	wallet, err := engine.CreateWallet(ctx, "alice", vault.ID, "checking")
	require.NoError(t, err)

	tx, err := engine.RecordExpense(ctx, ledger.EntryCmd{
		VaultID:  vault.ID,
		User:     "alice",
		WalletID: wallet.ID,
		Amount:   core.NewMoney(2500, core.EUR),
		Category: "groceries",
		Note:     "weekly shop",
	})
	require.NoError(t, err)

	var sink bytes.Buffer
	w := NewAuditWorker(store, &sink)
	w.now = func() time.Time { return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC) }

	event := events.NewLedgerEvent(events.TypeTransactionPosted, tx)
	require.NoError(t, w.HandleEvent(ctx, event))

	var record AuditRecord
	require.NoError(t, json.Unmarshal(sink.Bytes(), &record))
	require.Equal(t, events.TypeTransactionPosted, record.Event)
	require.Equal(t, tx.ID, record.TransactionID)
	require.Equal(t, vault.ID, record.VaultID)
	require.Equal(t, int64(2500), record.AmountMinor)
	require.Equal(t, "groceries", record.Category)
	require.Equal(t, "weekly shop", record.Note)
	require.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), record.RecordedAt)
}

func TestAuditWorker_HandleEvent_MissingTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	var sink bytes.Buffer
	w := NewAuditWorker(store, &sink)

	event := &events.LedgerEvent{
		Type:          events.TypeTransactionVoided,
		TransactionID: uuid.New(),
		VaultID:       uuid.New(),
		Kind:          string(core.Expense),
		AmountMinor:   1000,
		Currency:      string(core.EUR),
		Actor:         "bob",
	}

	require.NoError(t, w.HandleEvent(ctx, event))

	var record AuditRecord
	require.NoError(t, json.Unmarshal(sink.Bytes(), &record))
	require.Equal(t, events.TypeTransactionVoided, record.Event)
	require.Equal(t, event.TransactionID, record.TransactionID)
	require.Empty(t, record.Category)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAuditWorker_HandleEvent_SinkFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	w := NewAuditWorker(store, failingWriter{})

	event := &events.LedgerEvent{
		Type:          events.TypeTransactionPosted,
		TransactionID: uuid.New(),
		VaultID:       uuid.New(),
	}

	err := w.HandleEvent(ctx, event)
	require.Error(t, err)
	require.Contains(t, err.Error(), "append audit record")
}
