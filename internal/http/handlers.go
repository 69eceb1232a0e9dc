package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Oghma/Sparagne/internal/core"
	"github.com/Oghma/Sparagne/internal/ledger"
)

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request, user string) {
	var body struct {
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	currency, err := core.ParseCurrency(body.Currency)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	vault, err := s.engine.CreateVault(r.Context(), ledger.CreateVaultCmd{
		Owner:    user,
		Name:     body.Name,
		Currency: currency,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVaultJSON(vault))
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	vault, err := s.engine.Vault(r.Context(), user, vaultID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultJSON(vault))
}

func (s *Server) handleGetVaultByName(w http.ResponseWriter, r *http.Request, user string) {
	vault, err := s.engine.VaultByName(r.Context(), user, r.PathValue("name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultJSON(vault))
}

func (s *Server) handleDeleteVault(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.DeleteVault(r.Context(), user, vaultID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	wallet, err := s.engine.CreateWallet(r.Context(), user, vaultID, body.Name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletJSON{
		ID: wallet.ID, VaultID: wallet.VaultID, Name: wallet.Name, Balance: toMoneyJSON(wallet.Balance),
	})
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	flow, err := s.engine.CreateCashFlow(r.Context(), user, vaultID, body.Name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, flowJSON{
		ID: flow.ID, VaultID: flow.VaultID, Name: flow.Name, Total: toMoneyJSON(flow.Total),
	})
}

type entryBody struct {
	WalletID   uuid.UUID  `json:"wallet_id"`
	FlowID     *uuid.UUID `json:"flow_id,omitempty"`
	Amount     moneyJSON  `json:"amount"`
	Category   string     `json:"category,omitempty"`
	Note       string     `json:"note,omitempty"`
	OccurredAt time.Time  `json:"occurred_at,omitempty"`
}

func (s *Server) handleRecordIncome(w http.ResponseWriter, r *http.Request, user string) {
	s.handleEntry(w, r, user, s.engine.RecordIncome)
}

func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request, user string) {
	s.handleEntry(w, r, user, s.engine.RecordExpense)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request, user string,
	record func(ctx context.Context, cmd ledger.EntryCmd) (*core.Transaction, error)) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body entryBody
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := record(r.Context(), ledger.EntryCmd{
		VaultID:    vaultID,
		User:       user,
		WalletID:   body.WalletID,
		FlowID:     body.FlowID,
		Amount:     body.Amount.toMoney(),
		Category:   body.Category,
		Note:       body.Note,
		OccurredAt: body.OccurredAt,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionJSON(tx))
}

func (s *Server) handleRecordRefund(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body struct {
		OriginalID uuid.UUID `json:"original_id"`
		Amount     moneyJSON `json:"amount"`
		Note       string    `json:"note,omitempty"`
		OccurredAt time.Time `json:"occurred_at,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := s.engine.RecordRefund(r.Context(), ledger.RefundCmd{
		VaultID:    vaultID,
		User:       user,
		OriginalID: body.OriginalID,
		Amount:     body.Amount.toMoney(),
		Note:       body.Note,
		OccurredAt: body.OccurredAt,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionJSON(tx))
}

type transferBody struct {
	FromID     uuid.UUID `json:"from_id"`
	ToID       uuid.UUID `json:"to_id"`
	Amount     moneyJSON `json:"amount"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

func (s *Server) handleTransferWallet(w http.ResponseWriter, r *http.Request, user string) {
	s.handleTransfer(w, r, user, s.engine.TransferWallet)
}

func (s *Server) handleTransferFlow(w http.ResponseWriter, r *http.Request, user string) {
	s.handleTransfer(w, r, user, s.engine.TransferFlow)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, user string,
	transfer func(ctx context.Context, cmd ledger.TransferCmd) (*core.Transaction, error)) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body transferBody
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := transfer(r.Context(), ledger.TransferCmd{
		VaultID:    vaultID,
		User:       user,
		FromID:     body.FromID,
		ToID:       body.ToID,
		Amount:     body.Amount.toMoney(),
		Note:       body.Note,
		OccurredAt: body.OccurredAt,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionJSON(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := s.engine.ListTransactions(r.Context(), user, vaultID, filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for i := range txs {
		out = append(out, toTransactionJSON(&txs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func filterFromQuery(r *http.Request) (core.TransactionFilter, error) {
	var filter core.TransactionFilter
	q := r.URL.Query()

	if v := q.Get("wallet"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, fmt.Errorf("invalid wallet filter: %w", err)
		}
		filter.WalletID = &id
	}
	if v := q.Get("flow"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, fmt.Errorf("invalid flow filter: %w", err)
		}
		filter.FlowID = &id
	}
	if v := q.Get("kind"); v != "" {
		kind, err := core.ParseTransactionKind(v)
		if err != nil {
			return filter, err
		}
		filter.Kind = &kind
	}
	period, err := periodFromQuery(r)
	if err != nil {
		return filter, err
	}
	filter.Period = period
	if v := q.Get("include_voided"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid include_voided filter: %w", err)
		}
		filter.IncludeVoided = include
	}
	return filter, nil
}

func periodFromQuery(r *http.Request) (core.Period, error) {
	var period core.Period
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return period, fmt.Errorf("invalid from: %w", err)
		}
		period.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return period, fmt.Errorf("invalid to: %w", err)
		}
		period.To = to
	}
	return period, nil
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, user string) {
	txID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := s.engine.GetTransaction(r.Context(), user, txID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request, user string) {
	txID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body struct {
		Note     *string    `json:"note,omitempty"`
		Category *string    `json:"category,omitempty"`
		Amount   *moneyJSON `json:"amount,omitempty"`
		Kind     *string    `json:"kind,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := ledger.UpdateCmd{
		User:          user,
		TransactionID: txID,
		Note:          body.Note,
		Category:      body.Category,
	}
	// Forward edit attempts on protected fields so the engine can reject
	// them explicitly.
	if body.Amount != nil {
		amount := body.Amount.toMoney()
		cmd.Amount = &amount
	}
	if body.Kind != nil {
		kind := core.TransactionKind(*body.Kind)
		cmd.Kind = &kind
	}

	tx, err := s.engine.UpdateTransaction(r.Context(), cmd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleVoidTransaction(w http.ResponseWriter, r *http.Request, user string) {
	txID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := s.engine.VoidTransaction(r.Context(), user, txID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := periodFromQuery(r)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.engine.Statistics(r.Context(), user, vaultID, period)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsJSON(stats))
}

func (s *Server) handleUpsertMember(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := core.ParseRole(body.Role)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.engine.UpsertVaultMember(r.Context(), user, vaultID, r.PathValue("user"), role); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.RemoveVaultMember(r.Context(), user, vaultID, r.PathValue("user")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertFlowMember(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	flowID, err := pathUUID(r, "flow")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := core.ParseRole(body.Role)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.engine.UpsertFlowMember(r.Context(), user, vaultID, flowID, r.PathValue("user"), role); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFlowMember(w http.ResponseWriter, r *http.Request, user string) {
	vaultID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	flowID, err := pathUUID(r, "flow")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.RemoveFlowMember(r.Context(), user, vaultID, flowID, r.PathValue("user")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
