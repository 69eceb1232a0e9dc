// Package memory provides an in-process Store implementation. It backs the
// engine in tests and in deployments that do not need durability; commits
// are applied under one mutex so the all-or-nothing contract holds.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// Store keeps every aggregate in maps guarded by a single mutex.
type Store struct {
	mu           sync.Mutex
	vaults       map[uuid.UUID]*core.Vault
	transactions map[uuid.UUID]*core.Transaction
	order        []uuid.UUID // insertion order for deterministic listings

	// failNext, when set, makes the next commit or void fail after n
	// checks, simulating a store that rejects the atomic write. Used by
	// atomicity tests.
	failNext error
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{
		vaults:       make(map[uuid.UUID]*core.Vault),
		transactions: make(map[uuid.UUID]*core.Transaction),
	}
}

// FailNextWrite makes the next CommitTransaction or VoidTransaction return
// err without applying anything.
func (s *Store) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) CreateVault(_ context.Context, vault *core.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Names are unique case-insensitively, matching the NOCASE collation of
	// the durable store.
	for _, v := range s.vaults {
		if strings.EqualFold(v.Name, vault.Name) {
			return &core.Error{Kind: core.KindExists, Entity: "vault", ID: vault.Name, Msg: "already present"}
		}
	}
	s.vaults[vault.ID] = cloneVault(vault)
	return nil
}

func (s *Store) Vault(_ context.Context, id uuid.UUID) (*core.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[id]
	if !ok {
		return nil, core.NotFoundError("vault", id.String())
	}
	return cloneVault(v), nil
}

func (s *Store) VaultByName(_ context.Context, name string) (*core.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vaults {
		if strings.EqualFold(v.Name, name) {
			return cloneVault(v), nil
		}
	}
	return nil, core.NotFoundError("vault", name)
}

func (s *Store) DeleteVault(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[id]; !ok {
		return core.NotFoundError("vault", id.String())
	}
	delete(s.vaults, id)
	kept := s.order[:0]
	for _, txID := range s.order {
		if s.transactions[txID].VaultID == id {
			delete(s.transactions, txID)
			continue
		}
		kept = append(kept, txID)
	}
	s.order = kept
	return nil
}

func (s *Store) HasTransactions(_ context.Context, vaultID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.VaultID == vaultID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateWallet(_ context.Context, wallet *core.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[wallet.VaultID]
	if !ok {
		return core.NotFoundError("vault", wallet.VaultID.String())
	}
	v.Wallets = append(v.Wallets, *wallet)
	return nil
}

func (s *Store) CreateCashFlow(_ context.Context, flow *core.CashFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[flow.VaultID]
	if !ok {
		return core.NotFoundError("vault", flow.VaultID.String())
	}
	v.Flows = append(v.Flows, *flow)
	return nil
}

func (s *Store) UpsertVaultMember(_ context.Context, member core.VaultMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[member.VaultID]
	if !ok {
		return core.NotFoundError("vault", member.VaultID.String())
	}
	for i := range v.Members {
		if v.Members[i].User == member.User {
			v.Members[i].Role = member.Role
			return nil
		}
	}
	v.Members = append(v.Members, member)
	return nil
}

func (s *Store) RemoveVaultMember(_ context.Context, vaultID uuid.UUID, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[vaultID]
	if !ok {
		return core.NotFoundError("vault", vaultID.String())
	}
	for i := range v.Members {
		if v.Members[i].User == user {
			v.Members = append(v.Members[:i], v.Members[i+1:]...)
			return nil
		}
	}
	return core.NotFoundError("member", user)
}

func (s *Store) UpsertFlowMember(_ context.Context, member core.FlowMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vaultOfFlow(member.FlowID)
	if v == nil {
		return core.NotFoundError("cash_flow", member.FlowID.String())
	}
	for i := range v.FlowGrants {
		if v.FlowGrants[i].FlowID == member.FlowID && v.FlowGrants[i].User == member.User {
			v.FlowGrants[i].Role = member.Role
			return nil
		}
	}
	v.FlowGrants = append(v.FlowGrants, member)
	return nil
}

func (s *Store) RemoveFlowMember(_ context.Context, flowID uuid.UUID, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vaultOfFlow(flowID)
	if v == nil {
		return core.NotFoundError("cash_flow", flowID.String())
	}
	for i := range v.FlowGrants {
		if v.FlowGrants[i].FlowID == flowID && v.FlowGrants[i].User == user {
			v.FlowGrants = append(v.FlowGrants[:i], v.FlowGrants[i+1:]...)
			return nil
		}
	}
	return core.NotFoundError("member", user)
}

func (s *Store) Transaction(_ context.Context, id uuid.UUID) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, core.NotFoundError("transaction", id.String())
	}
	return cloneTransaction(t), nil
}

func (s *Store) Transactions(_ context.Context, vaultID uuid.UUID, filter core.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[vaultID]; !ok {
		return nil, core.NotFoundError("vault", vaultID.String())
	}
	var out []core.Transaction
	for _, id := range s.order {
		t := s.transactions[id]
		if t.VaultID != vaultID || !filter.Matches(t) {
			continue
		}
		out = append(out, *cloneTransaction(t))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *Store) RefundedMinor(_ context.Context, originalID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, t := range s.transactions {
		if t.Kind == core.Refund && t.RefundOf != nil && *t.RefundOf == originalID && !t.Voided() {
			total += t.Amount.Minor
		}
	}
	return total, nil
}

// CommitTransaction applies the record and every balance delta under one
// lock: a reader can never observe the record without its deltas.
func (s *Store) CommitTransaction(_ context.Context, commit core.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	v, ok := s.vaults[commit.Transaction.VaultID]
	if !ok {
		return core.NotFoundError("vault", commit.Transaction.VaultID.String())
	}
	if err := s.applyDeltas(v, commit.Deltas); err != nil {
		return err
	}
	t := cloneTransaction(commit.Transaction)
	s.transactions[t.ID] = t
	s.order = append(s.order, t.ID)
	return nil
}

func (s *Store) VoidTransaction(_ context.Context, void core.Void) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	t, ok := s.transactions[void.TransactionID]
	if !ok {
		return core.NotFoundError("transaction", void.TransactionID.String())
	}
	if t.Voided() {
		return &core.Error{Kind: core.KindAlreadyVoided, Entity: "transaction",
			ID: t.ID.String(), Msg: "transaction already voided"}
	}
	v, ok := s.vaults[t.VaultID]
	if !ok {
		return core.NotFoundError("vault", t.VaultID.String())
	}
	if err := s.applyDeltas(v, void.Deltas); err != nil {
		return err
	}
	voidedAt := void.VoidedAt
	t.VoidedAt = &voidedAt
	t.VoidedBy = void.VoidedBy
	return nil
}

func (s *Store) UpdateTransactionMeta(_ context.Context, id uuid.UUID, patch core.MetaPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return core.NotFoundError("transaction", id.String())
	}
	if patch.Note != nil {
		t.Note = *patch.Note
	}
	if patch.Category != nil {
		t.Category = *patch.Category
	}
	return nil
}

// applyDeltas validates every target before touching any balance, so a
// missing target cannot leave a half-applied commit behind.
func (s *Store) applyDeltas(v *core.Vault, deltas []core.BalanceDelta) error {
	type slot struct{ minor *int64 }
	slots := make([]slot, 0, len(deltas))
	for _, d := range deltas {
		switch d.Target.Kind {
		case core.TargetWallet:
			w, ok := v.Wallet(d.Target.ID)
			if !ok {
				return core.NotFoundError("wallet", d.Target.ID.String())
			}
			slots = append(slots, slot{&w.Balance.Minor})
		case core.TargetFlow:
			f, ok := v.Flow(d.Target.ID)
			if !ok {
				return core.NotFoundError("cash_flow", d.Target.ID.String())
			}
			slots = append(slots, slot{&f.Total.Minor})
		}
	}
	for i, d := range deltas {
		*slots[i].minor += d.Minor
	}
	return nil
}

func (s *Store) takeFailure() error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return core.StoreError("write rejected", err)
	}
	return nil
}

func (s *Store) vaultOfFlow(flowID uuid.UUID) *core.Vault {
	for _, v := range s.vaults {
		if _, ok := v.Flow(flowID); ok {
			return v
		}
	}
	return nil
}

func cloneVault(v *core.Vault) *core.Vault {
	out := *v
	out.Wallets = append([]core.Wallet(nil), v.Wallets...)
	out.Flows = append([]core.CashFlow(nil), v.Flows...)
	out.Members = append([]core.VaultMember(nil), v.Members...)
	out.FlowGrants = append([]core.FlowMember(nil), v.FlowGrants...)
	return &out
}

func cloneTransaction(t *core.Transaction) *core.Transaction {
	out := *t
	out.Legs = append([]core.Leg(nil), t.Legs...)
	if t.VoidedAt != nil {
		voidedAt := *t.VoidedAt
		out.VoidedAt = &voidedAt
	}
	if t.RefundOf != nil {
		refundOf := *t.RefundOf
		out.RefundOf = &refundOf
	}
	return &out
}
