package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
	"github.com/Oghma/Sparagne/internal/ledger"
)

// moneyJSON is the only wire shape for monetary amounts: minor units plus
// the currency code. No floats cross the boundary.
type moneyJSON struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

func toMoneyJSON(m core.Money) moneyJSON {
	return moneyJSON{Minor: m.Minor, Currency: string(m.Currency)}
}

func (m moneyJSON) toMoney() core.Money {
	return core.NewMoney(m.Minor, core.Currency(m.Currency))
}

type legJSON struct {
	TargetKind string    `json:"target_kind"`
	TargetID   uuid.UUID `json:"target_id"`
	Minor      int64     `json:"minor"`
}

type transactionJSON struct {
	ID         uuid.UUID  `json:"id"`
	VaultID    uuid.UUID  `json:"vault_id"`
	Kind       string     `json:"kind"`
	Amount     moneyJSON  `json:"amount"`
	OccurredAt time.Time  `json:"occurred_at"`
	Category   string     `json:"category,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedBy  string     `json:"created_by"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	VoidedBy   string     `json:"voided_by,omitempty"`
	RefundOf   *uuid.UUID `json:"refund_of,omitempty"`
	Legs       []legJSON  `json:"legs"`
}

func toTransactionJSON(t *core.Transaction) transactionJSON {
	out := transactionJSON{
		ID:         t.ID,
		VaultID:    t.VaultID,
		Kind:       string(t.Kind),
		Amount:     toMoneyJSON(t.Amount),
		OccurredAt: t.OccurredAt,
		Category:   t.Category,
		Note:       t.Note,
		CreatedBy:  t.CreatedBy,
		VoidedAt:   t.VoidedAt,
		VoidedBy:   t.VoidedBy,
		RefundOf:   t.RefundOf,
		Legs:       make([]legJSON, 0, len(t.Legs)),
	}
	for _, leg := range t.Legs {
		out.Legs = append(out.Legs, legJSON{
			TargetKind: string(leg.Target.Kind),
			TargetID:   leg.Target.ID,
			Minor:      leg.Minor,
		})
	}
	return out
}

type walletJSON struct {
	ID      uuid.UUID `json:"id"`
	VaultID uuid.UUID `json:"vault_id"`
	Name    string    `json:"name"`
	Balance moneyJSON `json:"balance"`
}

type flowJSON struct {
	ID      uuid.UUID `json:"id"`
	VaultID uuid.UUID `json:"vault_id"`
	Name    string    `json:"name"`
	Total   moneyJSON `json:"total"`
}

type memberJSON struct {
	User string `json:"user"`
	Role string `json:"role"`
}

type vaultJSON struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Owner     string       `json:"owner"`
	Currency  string       `json:"currency"`
	CreatedAt time.Time    `json:"created_at"`
	Wallets   []walletJSON `json:"wallets"`
	Flows     []flowJSON   `json:"flows"`
	Members   []memberJSON `json:"members"`
}

func toVaultJSON(v *core.Vault) vaultJSON {
	out := vaultJSON{
		ID:        v.ID,
		Name:      v.Name,
		Owner:     v.Owner,
		Currency:  string(v.Currency),
		CreatedAt: v.CreatedAt,
		Wallets:   make([]walletJSON, 0, len(v.Wallets)),
		Flows:     make([]flowJSON, 0, len(v.Flows)),
		Members:   make([]memberJSON, 0, len(v.Members)),
	}
	for _, w := range v.Wallets {
		out.Wallets = append(out.Wallets, walletJSON{ID: w.ID, VaultID: w.VaultID, Name: w.Name, Balance: toMoneyJSON(w.Balance)})
	}
	for _, f := range v.Flows {
		out.Flows = append(out.Flows, flowJSON{ID: f.ID, VaultID: f.VaultID, Name: f.Name, Total: toMoneyJSON(f.Total)})
	}
	for _, m := range v.Members {
		out.Members = append(out.Members, memberJSON{User: m.User, Role: string(m.Role)})
	}
	return out
}

type statisticsJSON struct {
	VaultID       uuid.UUID        `json:"vault_id"`
	From          *time.Time       `json:"from,omitempty"`
	To            *time.Time       `json:"to,omitempty"`
	Balance       moneyJSON        `json:"balance"`
	TotalIncome   moneyJSON        `json:"total_income"`
	TotalExpenses moneyJSON        `json:"total_expenses"`
	PerWallet     []namedTotalJSON `json:"per_wallet"`
	PerFlow       []namedTotalJSON `json:"per_flow"`
}

type namedTotalJSON struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Total moneyJSON `json:"total"`
}

func toStatisticsJSON(s *ledger.Statistics) statisticsJSON {
	out := statisticsJSON{
		VaultID:       s.VaultID,
		Balance:       toMoneyJSON(s.Balance),
		TotalIncome:   toMoneyJSON(s.TotalIncome),
		TotalExpenses: toMoneyJSON(s.TotalExpenses),
		PerWallet:     make([]namedTotalJSON, 0, len(s.PerWallet)),
		PerFlow:       make([]namedTotalJSON, 0, len(s.PerFlow)),
	}
	if !s.Period.From.IsZero() {
		from := s.Period.From
		out.From = &from
	}
	if !s.Period.To.IsZero() {
		to := s.Period.To
		out.To = &to
	}
	for _, w := range s.PerWallet {
		out.PerWallet = append(out.PerWallet, namedTotalJSON{ID: w.WalletID, Name: w.Name, Total: toMoneyJSON(w.Total)})
	}
	for _, f := range s.PerFlow {
		out.PerFlow = append(out.PerFlow, namedTotalJSON{ID: f.FlowID, Name: f.Name, Total: toMoneyJSON(f.Total)})
	}
	return out
}

type errorJSON struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeErrorBody(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Error: msg})
}

// writeEngineError maps engine error kinds onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		writeErrorBody(w, http.StatusInternalServerError, err.Error())
		return
	}

	var status int
	switch coreErr.Kind {
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindUnauthorized:
		status = http.StatusForbidden
	case core.KindInvalidAmount, core.KindCurrencyMismatch, core.KindSameWallet, core.KindSameFlow:
		status = http.StatusUnprocessableEntity
	case core.KindInvalidState, core.KindAlreadyVoided, core.KindImmutable, core.KindExists:
		status = http.StatusConflict
	case core.KindStoreFailure:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorJSON{
		Error:  coreErr.Error(),
		Kind:   string(coreErr.Kind),
		Entity: coreErr.Entity,
		ID:     coreErr.ID,
	})
}
