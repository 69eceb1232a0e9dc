package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the level of a membership grant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleMember:
		return RoleMember, nil
	default:
		return "", &Error{Kind: KindInvalidState, Entity: "role", ID: s, Msg: "unknown role"}
	}
}

// Vault is the sharing and ownership boundary: it owns wallets, cash flows
// and the membership list. All mutation is scoped to a vault, and vaults are
// independent units of concurrency.
type Vault struct {
	ID        uuid.UUID
	Name      string
	Owner     string
	Currency  Currency
	CreatedAt time.Time
	Wallets   []Wallet
	Flows     []CashFlow
	Members   []VaultMember
	// FlowGrants are narrower, single-flow memberships within this vault.
	FlowGrants []FlowMember
}

// Wallet is a named balance holder owned by a vault. Its balance is derived
// from applied transactions and is mutated only by the engine's commit path.
type Wallet struct {
	ID      uuid.UUID
	VaultID uuid.UUID
	Name    string
	Balance Money
}

// CashFlow is a budget bucket with its own running total, independent of
// wallet balances. Same mutation discipline as Wallet.
type CashFlow struct {
	ID      uuid.UUID
	VaultID uuid.UUID
	Name    string
	Total   Money
}

// VaultMember grants a user access to every wallet and flow in a vault.
type VaultMember struct {
	VaultID uuid.UUID
	User    string
	Role    Role
}

// FlowMember grants a user access limited to one cash flow within a vault.
type FlowMember struct {
	FlowID uuid.UUID
	User   string
	Role   Role
}

// Wallet returns the wallet with the given id, if the vault owns it.
func (v *Vault) Wallet(id uuid.UUID) (*Wallet, bool) {
	for i := range v.Wallets {
		if v.Wallets[i].ID == id {
			return &v.Wallets[i], true
		}
	}
	return nil, false
}

// Flow returns the cash flow with the given id, if the vault owns it.
func (v *Vault) Flow(id uuid.UUID) (*CashFlow, bool) {
	for i := range v.Flows {
		if v.Flows[i].ID == id {
			return &v.Flows[i], true
		}
	}
	return nil, false
}

// MemberRole returns the vault-level role of a user, if any. The vault owner
// always has RoleOwner regardless of the membership rows.
func (v *Vault) MemberRole(user string) (Role, bool) {
	if user == v.Owner {
		return RoleOwner, true
	}
	for _, m := range v.Members {
		if m.User == user {
			return m.Role, true
		}
	}
	return "", false
}

// GrantedFlows returns the ids of flows the user can write through
// flow-scoped grants.
func (v *Vault) GrantedFlows(user string) []uuid.UUID {
	var ids []uuid.UUID
	for _, g := range v.FlowGrants {
		if g.User == user {
			ids = append(ids, g.FlowID)
		}
	}
	return ids
}

// Validate checks the invariants required before provisioning a vault.
func (v *Vault) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return &Error{Kind: KindInvalidState, Entity: "vault", Msg: "empty name"}
	}
	if strings.TrimSpace(v.Owner) == "" {
		return &Error{Kind: KindInvalidState, Entity: "vault", ID: v.Name, Msg: "empty owner"}
	}
	if _, err := ParseCurrency(string(v.Currency)); err != nil {
		return err
	}
	return nil
}
