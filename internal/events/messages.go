package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// Event types carried on the ledger events queue.
const (
	TypeTransactionPosted = "transaction.posted"
	TypeTransactionVoided = "transaction.voided"
)

// LedgerEvent is the message published after a transaction is committed or
// voided. It carries identifiers only; consumers fetch the full record from
// the store when they need more.
type LedgerEvent struct {
	Type          string    `json:"type"`
	TransactionID uuid.UUID `json:"transaction_id"`
	VaultID       uuid.UUID `json:"vault_id"`
	Kind          string    `json:"kind"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	Actor         string    `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEvent builds the event for a transaction lifecycle change.
func NewLedgerEvent(eventType string, t *core.Transaction) *LedgerEvent {
	actor := t.CreatedBy
	if eventType == TypeTransactionVoided {
		actor = t.VoidedBy
	}
	return &LedgerEvent{
		Type:          eventType,
		TransactionID: t.ID,
		VaultID:       t.VaultID,
		Kind:          string(t.Kind),
		AmountMinor:   t.Amount.Minor,
		Currency:      string(t.Amount.Currency),
		Actor:         actor,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON creates an event from JSON bytes.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var event LedgerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
