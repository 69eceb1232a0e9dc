package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
)

// CreateVaultCmd provisions a new vault owned by a user.
type CreateVaultCmd struct {
	Owner    string
	Name     string
	Currency core.Currency
}

// CreateVault provisions a vault with its owner membership. Names are
// unique per deployment; creating a duplicate fails with an exists error.
func (e *Engine) CreateVault(ctx context.Context, cmd CreateVaultCmd) (*core.Vault, error) {
	vault := &core.Vault{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(cmd.Name),
		Owner:     strings.TrimSpace(cmd.Owner),
		Currency:  cmd.Currency,
		CreatedAt: e.now().UTC(),
	}
	if err := vault.Validate(); err != nil {
		return nil, err
	}
	vault.Members = []core.VaultMember{{VaultID: vault.ID, User: vault.Owner, Role: core.RoleOwner}}

	if err := e.store.CreateVault(ctx, vault); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Vault created",
		"vault_id", vault.ID,
		"name", vault.Name,
		"owner", vault.Owner,
		"currency", vault.Currency)
	return vault, nil
}

// Vault returns the aggregate view for a member.
func (e *Engine) Vault(ctx context.Context, user string, vaultID uuid.UUID) (*core.Vault, error) {
	return e.loadVault(ctx, vaultID, user)
}

// VaultByName resolves a vault by its unique name.
func (e *Engine) VaultByName(ctx context.Context, user, name string) (*core.Vault, error) {
	vault, err := e.store.VaultByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := requireRead(vault, user); err != nil {
		return nil, err
	}
	return vault, nil
}

// DeleteVault destroys a vault according to the engine's delete policy:
// cascade removes everything it owns, deny-if-used rejects while history
// exists. Owner only.
func (e *Engine) DeleteVault(ctx context.Context, user string, vaultID uuid.UUID) error {
	lock := e.locks.get(vaultID)
	lock.Lock()
	defer lock.Unlock()

	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return err
	}
	if err := requireOwner(vault, user); err != nil {
		return err
	}

	if e.deletePolicy == DeleteDenyIfUsed {
		used, err := e.store.HasTransactions(ctx, vaultID)
		if err != nil {
			return err
		}
		if used || len(vault.Wallets) > 0 || len(vault.Flows) > 0 {
			return &core.Error{Kind: core.KindInvalidState, Entity: "vault", ID: vaultID.String(),
				Msg: "vault still holds wallets, flows or history"}
		}
	}

	if err := e.store.DeleteVault(ctx, vaultID); err != nil {
		return err
	}
	if e.stats != nil {
		e.stats.invalidate(vaultID)
	}
	e.locks.drop(vaultID)

	slog.InfoContext(ctx, "Vault deleted", "vault_id", vaultID, "deleted_by", user)
	return nil
}

// CreateWallet adds a named balance holder to the vault, starting at zero.
func (e *Engine) CreateWallet(ctx context.Context, user string, vaultID uuid.UUID, name string) (*core.Wallet, error) {
	lock := e.locks.get(vaultID)
	lock.Lock()
	defer lock.Unlock()

	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(vault, user, nil); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &core.Error{Kind: core.KindInvalidState, Entity: "wallet", Msg: "empty name"}
	}
	for _, w := range vault.Wallets {
		if w.Name == name {
			return nil, &core.Error{Kind: core.KindExists, Entity: "wallet", ID: name, Msg: "already present"}
		}
	}

	wallet := &core.Wallet{
		ID:      uuid.New(),
		VaultID: vaultID,
		Name:    name,
		Balance: core.NewMoney(0, vault.Currency),
	}
	if err := e.store.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Wallet created", "wallet_id", wallet.ID, "vault_id", vaultID, "name", name)
	return wallet, nil
}

// CreateCashFlow adds a budget bucket to the vault, starting at zero.
func (e *Engine) CreateCashFlow(ctx context.Context, user string, vaultID uuid.UUID, name string) (*core.CashFlow, error) {
	lock := e.locks.get(vaultID)
	lock.Lock()
	defer lock.Unlock()

	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(vault, user, nil); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &core.Error{Kind: core.KindInvalidState, Entity: "cash_flow", Msg: "empty name"}
	}
	for _, f := range vault.Flows {
		if f.Name == name {
			return nil, &core.Error{Kind: core.KindExists, Entity: "cash_flow", ID: name, Msg: "already present"}
		}
	}

	flow := &core.CashFlow{
		ID:      uuid.New(),
		VaultID: vaultID,
		Name:    name,
		Total:   core.NewMoney(0, vault.Currency),
	}
	if err := e.store.CreateCashFlow(ctx, flow); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Cash flow created", "flow_id", flow.ID, "vault_id", vaultID, "name", name)
	return flow, nil
}

// UpsertVaultMember adds a member or updates their role. Owner only; the
// owner's own membership cannot be demoted.
func (e *Engine) UpsertVaultMember(ctx context.Context, user string, vaultID uuid.UUID, member string, role core.Role) error {
	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return err
	}
	if err := requireOwner(vault, user); err != nil {
		return err
	}
	member = strings.TrimSpace(member)
	if member == "" {
		return &core.Error{Kind: core.KindInvalidState, Entity: "member", Msg: "empty username"}
	}
	if member == vault.Owner {
		return &core.Error{Kind: core.KindInvalidState, Entity: "member", ID: member,
			Msg: "cannot change the vault owner's membership"}
	}
	return e.store.UpsertVaultMember(ctx, core.VaultMember{VaultID: vaultID, User: member, Role: role})
}

// RemoveVaultMember revokes a membership. Prior transactions by the member
// are untouched: history is immutable regardless of present-day membership.
func (e *Engine) RemoveVaultMember(ctx context.Context, user string, vaultID uuid.UUID, member string) error {
	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return err
	}
	if err := requireOwner(vault, user); err != nil {
		return err
	}
	if member == vault.Owner {
		return &core.Error{Kind: core.KindInvalidState, Entity: "member", ID: member,
			Msg: "cannot remove the vault owner"}
	}
	return e.store.RemoveVaultMember(ctx, vaultID, member)
}

// UpsertFlowMember grants a user access limited to one cash flow.
func (e *Engine) UpsertFlowMember(ctx context.Context, user string, vaultID, flowID uuid.UUID, member string, role core.Role) error {
	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return err
	}
	if err := requireOwner(vault, user); err != nil {
		return err
	}
	if _, ok := vault.Flow(flowID); !ok {
		return core.NotFoundError("cash_flow", flowID.String())
	}
	member = strings.TrimSpace(member)
	if member == "" {
		return &core.Error{Kind: core.KindInvalidState, Entity: "member", Msg: "empty username"}
	}
	return e.store.UpsertFlowMember(ctx, core.FlowMember{FlowID: flowID, User: member, Role: role})
}

// RemoveFlowMember revokes a flow-scoped grant.
func (e *Engine) RemoveFlowMember(ctx context.Context, user string, vaultID, flowID uuid.UUID, member string) error {
	vault, err := e.store.Vault(ctx, vaultID)
	if err != nil {
		return err
	}
	if err := requireOwner(vault, user); err != nil {
		return err
	}
	if _, ok := vault.Flow(flowID); !ok {
		return core.NotFoundError("cash_flow", flowID.String())
	}
	return e.store.RemoveFlowMember(ctx, flowID, member)
}
