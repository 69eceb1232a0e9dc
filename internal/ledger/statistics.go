package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/cache"
	"github.com/Oghma/Sparagne/internal/core"
)

// WalletTotal is the summed delta applied to one wallet by posted
// transactions inside the requested window.
type WalletTotal struct {
	WalletID uuid.UUID
	Name     string
	Total    core.Money
}

// FlowTotal is the summed delta applied to one cash flow.
type FlowTotal struct {
	FlowID uuid.UUID
	Name   string
	Total  core.Money
}

// Statistics is the read-only rollup of a vault: totals per cash flow and
// per wallet plus vault-level income/expense sums. Voided transactions
// contribute nothing, mirroring the balance invariant.
type Statistics struct {
	VaultID       uuid.UUID
	Period        core.Period
	Balance       core.Money // sum of current wallet balances
	TotalIncome   core.Money
	TotalExpenses core.Money
	PerWallet     []WalletTotal
	PerFlow       []FlowTotal
}

// Statistics aggregates posted, non-voided transactions for the vault,
// optionally restricted to a period. Purely derived; it has no write path.
func (e *Engine) Statistics(ctx context.Context, user string, vaultID uuid.UUID, period core.Period) (*Statistics, error) {
	vault, err := e.loadVault(ctx, vaultID, user)
	if err != nil {
		return nil, err
	}

	var key string
	if e.stats != nil {
		key = e.stats.key(vaultID, period)
		if cached, ok := e.stats.get(key); ok {
			return cached, nil
		}
	}

	txs, err := e.store.Transactions(ctx, vaultID, core.TransactionFilter{Period: period})
	if err != nil {
		return nil, err
	}

	stats := aggregate(vault, period, txs)
	if e.stats != nil {
		e.stats.set(key, stats)
	}
	return stats, nil
}

// aggregate folds posted transactions into the statistics view. Pure.
func aggregate(vault *core.Vault, period core.Period, txs []core.Transaction) *Statistics {
	currency := vault.Currency
	stats := &Statistics{
		VaultID:       vault.ID,
		Period:        period,
		Balance:       core.NewMoney(0, currency),
		TotalIncome:   core.NewMoney(0, currency),
		TotalExpenses: core.NewMoney(0, currency),
	}
	for _, w := range vault.Wallets {
		stats.Balance.Minor += w.Balance.Minor
	}

	walletSums := make(map[uuid.UUID]int64)
	flowSums := make(map[uuid.UUID]int64)
	for i := range txs {
		t := &txs[i]
		if t.Voided() {
			continue
		}
		switch t.Kind {
		case core.Income:
			stats.TotalIncome.Minor += t.Amount.Minor
		case core.Expense:
			stats.TotalExpenses.Minor += t.Amount.Minor
		case core.Refund:
			// A refund shrinks whichever side it reverses.
			for _, leg := range t.Legs {
				if leg.Target.Kind == core.TargetWallet {
					if leg.Minor > 0 {
						stats.TotalExpenses.Minor -= t.Amount.Minor
					} else {
						stats.TotalIncome.Minor -= t.Amount.Minor
					}
					break
				}
			}
		case core.TransferWallet, core.TransferFlow:
			// Internal movements, not income or spending.
		}
		for _, leg := range t.Legs {
			switch leg.Target.Kind {
			case core.TargetWallet:
				walletSums[leg.Target.ID] += leg.Minor
			case core.TargetFlow:
				flowSums[leg.Target.ID] += leg.Minor
			}
		}
	}

	for _, w := range vault.Wallets {
		stats.PerWallet = append(stats.PerWallet, WalletTotal{
			WalletID: w.ID,
			Name:     w.Name,
			Total:    core.NewMoney(walletSums[w.ID], currency),
		})
	}
	for _, f := range vault.Flows {
		stats.PerFlow = append(stats.PerFlow, FlowTotal{
			FlowID: f.ID,
			Name:   f.Name,
			Total:  core.NewMoney(flowSums[f.ID], currency),
		})
	}
	sort.Slice(stats.PerWallet, func(i, j int) bool { return stats.PerWallet[i].Name < stats.PerWallet[j].Name })
	sort.Slice(stats.PerFlow, func(i, j int) bool { return stats.PerFlow[i].Name < stats.PerFlow[j].Name })
	return stats
}

// statsCache memoizes statistics per vault. Keys embed a per-vault
// generation counter bumped on every commit or void, so stale entries for a
// vault can never be served after a mutation.
type statsCache struct {
	lru *cache.LRUCache[*Statistics]

	mu   sync.Mutex
	gens map[uuid.UUID]uint64
}

func newStatsCache(maxEntries int, ttl time.Duration) *statsCache {
	return &statsCache{
		lru:  cache.NewLRUCache[*Statistics](maxEntries, ttl),
		gens: make(map[uuid.UUID]uint64),
	}
}

func (c *statsCache) key(vaultID uuid.UUID, period core.Period) string {
	c.mu.Lock()
	gen := c.gens[vaultID]
	c.mu.Unlock()
	return fmt.Sprintf("%s|%d|%d|%d", vaultID, gen, period.From.UnixNano(), period.To.UnixNano())
}

func (c *statsCache) get(key string) (*Statistics, bool) {
	return c.lru.Get(key)
}

func (c *statsCache) set(key string, stats *Statistics) {
	c.lru.Set(key, stats)
}

func (c *statsCache) invalidate(vaultID uuid.UUID) {
	c.mu.Lock()
	c.gens[vaultID]++
	c.mu.Unlock()
}

// StatisticsCacheCleaner exposes the cache for periodic expired-entry
// cleanup; nil when caching is disabled.
func (e *Engine) StatisticsCacheCleaner() cache.Cleaner {
	if e.stats == nil {
		return nil
	}
	return e.stats.lru
}
