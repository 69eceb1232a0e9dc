// Package worker turns ledger events into an append-only audit trail.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
	"github.com/Oghma/Sparagne/internal/events"
	"github.com/Oghma/Sparagne/internal/ledger"
	applog "github.com/Oghma/Sparagne/internal/log"
)

// AuditRecord is one line of the audit trail, serialized as JSON.
type AuditRecord struct {
	Event         string    `json:"event"`
	TransactionID uuid.UUID `json:"transaction_id"`
	VaultID       uuid.UUID `json:"vault_id"`
	Kind          string    `json:"kind"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	Actor         string    `json:"actor"`
	Category      string    `json:"category,omitempty"`
	Note          string    `json:"note,omitempty"`
	OccurredAt    time.Time `json:"occurred_at,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// AuditWorker consumes posted/voided events and appends one record per
// event to the sink. Events reference the transaction by id; the worker
// fetches the full record from the store so the trail carries category and
// note too.
type AuditWorker struct {
	store ledger.Store

	mu   sync.Mutex
	sink io.Writer
	now  func() time.Time
}

// NewAuditWorker builds a worker writing JSON lines to sink.
func NewAuditWorker(store ledger.Store, sink io.Writer) *AuditWorker {
	return &AuditWorker{
		store: store,
		sink:  sink,
		now:   time.Now,
	}
}

// HandleEvent processes one ledger event. A failed write returns an error
// so the delivery is requeued; a transaction that no longer exists (vault
// deleted under the cascade policy) is recorded from the event alone.
func (w *AuditWorker) HandleEvent(ctx context.Context, event *events.LedgerEvent) error {
	record := AuditRecord{
		Event:         event.Type,
		TransactionID: event.TransactionID,
		VaultID:       event.VaultID,
		Kind:          event.Kind,
		AmountMinor:   event.AmountMinor,
		Currency:      event.Currency,
		Actor:         event.Actor,
		RecordedAt:    w.now().UTC(),
	}

	tx, err := w.store.Transaction(ctx, event.TransactionID)
	switch {
	case err == nil:
		record.Category = tx.Category
		record.Note = tx.Note
		record.OccurredAt = tx.OccurredAt
	case errors.Is(err, core.ErrNotFound):
		slog.WarnContext(ctx, "Transaction gone, auditing from event only",
			"transaction_id", event.TransactionID)
	default:
		return fmt.Errorf("load transaction for audit: %w", err)
	}

	if err := w.append(record); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}

	fields := applog.NewFields().
		WithUser(record.Actor).
		WithTransaction(record.TransactionID.String(), record.VaultID.String(), record.Kind, record.AmountMinor)
	slog.InfoContext(ctx, "Audited ledger event", append([]any{"event", record.Event}, fields.ToSlice()...)...)
	return nil
}

func (w *AuditWorker) append(record AuditRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.sink.Write(line)
	return err
}
