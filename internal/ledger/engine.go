package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// DeletePolicy decides what DeleteVault does when the vault still has
// recorded history. The policy is explicit per deployment.
type DeletePolicy string

const (
	// DeleteCascade removes the vault together with its wallets, flows and
	// transactions.
	DeleteCascade DeletePolicy = "cascade"
	// DeleteDenyIfUsed rejects deletion while any transaction exists.
	DeleteDenyIfUsed DeletePolicy = "deny_if_used"
)

// Notifier receives hooks after a commit or void succeeded. Implementations
// must not block the engine; failures are theirs to log.
type Notifier interface {
	TransactionPosted(ctx context.Context, t *core.Transaction)
	TransactionVoided(ctx context.Context, t *core.Transaction)
}

// Engine orchestrates all vault mutations. Every write on a vault runs
// under that vault's mutex for the whole validate-compute-commit span, so
// concurrent writers cannot interleave their read-modify-write of a
// balance. Vaults are independent units of concurrency.
type Engine struct {
	store        Store
	locks        vaultLocks
	notifier     Notifier
	deletePolicy DeletePolicy
	stats        *statsCache
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches a post-commit notifier (e.g. the AMQP publisher).
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithDeletePolicy overrides the default DeleteDenyIfUsed policy.
func WithDeletePolicy(p DeletePolicy) Option {
	return func(e *Engine) { e.deletePolicy = p }
}

// WithStatisticsCache enables caching of statistics results with the given
// TTL. Entries are invalidated on every commit or void touching the vault.
func WithStatisticsCache(ttl time.Duration, maxEntries int) Option {
	return func(e *Engine) { e.stats = newStatsCache(maxEntries, ttl) }
}

// WithClock replaces the engine clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine on top of a Store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		deletePolicy: DeleteDenyIfUsed,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// vaultLocks hands out one mutex per vault id. Lock granularity is the
// vault: every mutation on a wallet or flow must be serialized with other
// mutations in the same vault, and cross-vault operations do not exist.
type vaultLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func (l *vaultLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[uuid.UUID]*sync.Mutex)
	}
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

func (l *vaultLocks) drop(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, id)
}

// capability is the result of the authorization gate. Operations state the
// capability they need instead of re-deriving membership rules inline.
type capability int

const (
	capNone capability = iota
	// capFlowScoped allows writes whose legs all target granted flows.
	capFlowScoped
	// capWrite allows any mutation inside the vault.
	capWrite
	// capOwner additionally allows membership and vault management.
	capOwner
)

// capabilityFor is the single authorization gate consulted at the top of
// every operation.
func capabilityFor(vault *core.Vault, user string) capability {
	if role, ok := vault.MemberRole(user); ok {
		if role == core.RoleOwner {
			return capOwner
		}
		return capWrite
	}
	if len(vault.GrantedFlows(user)) > 0 {
		return capFlowScoped
	}
	return capNone
}

// requireWrite checks that user may apply the given legs inside the vault.
// Vault members may touch anything; flow-scoped members only operations
// whose every leg targets one of their granted flows.
func requireWrite(vault *core.Vault, user string, legs []core.Leg) error {
	switch capabilityFor(vault, user) {
	case capOwner, capWrite:
		return nil
	case capFlowScoped:
		granted := make(map[uuid.UUID]bool)
		for _, id := range vault.GrantedFlows(user) {
			granted[id] = true
		}
		for _, leg := range legs {
			if leg.Target.Kind != core.TargetFlow || !granted[leg.Target.ID] {
				return core.UnauthorizedError(user, vault.ID.String())
			}
		}
		return nil
	default:
		return core.UnauthorizedError(user, vault.ID.String())
	}
}

// requireRead checks observation access: any vault or flow membership.
func requireRead(vault *core.Vault, user string) error {
	if capabilityFor(vault, user) == capNone {
		return core.UnauthorizedError(user, vault.ID.String())
	}
	return nil
}

// requireOwner checks vault management access.
func requireOwner(vault *core.Vault, user string) error {
	if capabilityFor(vault, user) != capOwner {
		return core.UnauthorizedError(user, vault.ID.String())
	}
	return nil
}

// loadVault fetches the aggregate and verifies the caller can read it.
func (e *Engine) loadVault(ctx context.Context, vaultID uuid.UUID, user string) (*core.Vault, error) {
	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if err := requireRead(vault, user); err != nil {
		return nil, err
	}
	return vault, nil
}

// afterCommit invalidates cached statistics and notifies listeners.
func (e *Engine) afterCommit(ctx context.Context, t *core.Transaction, voided bool) {
	if e.stats != nil {
		e.stats.invalidate(t.VaultID)
	}
	if e.notifier == nil {
		return
	}
	if voided {
		e.notifier.TransactionVoided(ctx, t)
	} else {
		e.notifier.TransactionPosted(ctx, t)
	}
}

// validateAmount applies the shared amount rules: strictly positive and in
// the vault's currency.
func validateAmount(vault *core.Vault, amount core.Money) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	if amount.Currency != vault.Currency {
		return &core.Error{
			Kind:   core.KindCurrencyMismatch,
			Entity: "vault",
			ID:     vault.ID.String(),
			Msg:    fmt.Sprintf("vault currency is %s, got %s", vault.Currency, amount.Currency),
		}
	}
	return nil
}

func logCommit(ctx context.Context, t *core.Transaction) {
	slog.InfoContext(ctx, "Transaction posted",
		"transaction_id", t.ID,
		"vault_id", t.VaultID,
		"kind", t.Kind,
		"amount_minor", t.Amount.Minor,
		"currency", t.Amount.Currency,
		"created_by", t.CreatedBy)
}
