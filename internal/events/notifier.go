package events

import (
	"context"
	"log/slog"

	"github.com/Oghma/Sparagne/internal/core"
	applog "github.com/Oghma/Sparagne/internal/log"
)

// Notifier adapts the AMQP client to the engine's post-commit hooks. The
// transaction is already durable when these run, so publish failures are
// logged and swallowed.
type Notifier struct {
	client *Client
}

// NewNotifier wraps client for use as an engine notifier.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) TransactionPosted(ctx context.Context, t *core.Transaction) {
	n.publish(ctx, NewLedgerEvent(TypeTransactionPosted, t))
}

func (n *Notifier) TransactionVoided(ctx context.Context, t *core.Transaction) {
	n.publish(ctx, NewLedgerEvent(TypeTransactionVoided, t))
}

func (n *Notifier) publish(ctx context.Context, event *LedgerEvent) {
	if err := n.client.PublishLedgerEvent(ctx, event); err != nil {
		fields := applog.NewFields().
			WithError(err).
			WithTransaction(event.TransactionID.String(), event.VaultID.String(), event.Kind, event.AmountMinor)
		slog.ErrorContext(ctx, "Failed to publish ledger event", fields.ToSlice()...)
	}
}
