// Package sqlite persists the ledger in SQLite. Commit and void are
// executed inside one SQL transaction, which is what gives the engine its
// all-or-nothing guarantee.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Oghma/Sparagne/internal/core"
)

// Store implements ledger.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at dbPath and runs the
// embedded migrations.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) CreateVault(ctx context.Context, vault *core.Vault) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StoreError("begin create vault", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO vaults (id, name, owner, currency, created_at) VALUES (?, ?, ?, ?, ?)`,
		vault.ID.String(), vault.Name, vault.Owner, string(vault.Currency), formatTime(vault.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return &core.Error{Kind: core.KindExists, Entity: "vault", ID: vault.Name, Msg: "already present"}
		}
		return core.StoreError("insert vault", err)
	}
	for _, m := range vault.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vault_members (vault_id, user, role) VALUES (?, ?, ?)`,
			m.VaultID.String(), m.User, string(m.Role)); err != nil {
			return core.StoreError("insert vault member", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.StoreError("commit create vault", err)
	}
	return nil
}

func (s *Store) Vault(ctx context.Context, id uuid.UUID) (*core.Vault, error) {
	return s.loadVault(ctx, `SELECT id, name, owner, currency, created_at FROM vaults WHERE id = ?`, id.String())
}

// VaultByName matches case-insensitively; the column's NOCASE collation
// also makes the uniqueness constraint case-insensitive.
func (s *Store) VaultByName(ctx context.Context, name string) (*core.Vault, error) {
	return s.loadVault(ctx, `SELECT id, name, owner, currency, created_at FROM vaults WHERE name = ? COLLATE NOCASE`, name)
}

func (s *Store) loadVault(ctx context.Context, query, arg string) (*core.Vault, error) {
	var (
		vault     core.Vault
		idStr     string
		currency  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&idStr, &vault.Name, &vault.Owner, &currency, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundError("vault", arg)
	}
	if err != nil {
		return nil, core.StoreError("select vault", err)
	}
	if vault.ID, err = uuid.Parse(idStr); err != nil {
		return nil, core.StoreError("parse vault id", err)
	}
	vault.Currency = core.Currency(currency)
	if vault.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, core.StoreError("parse vault created_at", err)
	}

	if err := s.loadWallets(ctx, &vault); err != nil {
		return nil, err
	}
	if err := s.loadFlows(ctx, &vault); err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, &vault); err != nil {
		return nil, err
	}
	return &vault, nil
}

func (s *Store) loadWallets(ctx context.Context, vault *core.Vault) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, balance_minor FROM wallets WHERE vault_id = ? ORDER BY name`, vault.ID.String())
	if err != nil {
		return core.StoreError("select wallets", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			w     core.Wallet
			idStr string
			minor int64
		)
		if err := rows.Scan(&idStr, &w.Name, &minor); err != nil {
			return core.StoreError("scan wallet", err)
		}
		if w.ID, err = uuid.Parse(idStr); err != nil {
			return core.StoreError("parse wallet id", err)
		}
		w.VaultID = vault.ID
		w.Balance = core.NewMoney(minor, vault.Currency)
		vault.Wallets = append(vault.Wallets, w)
	}
	return rows.Err()
}

func (s *Store) loadFlows(ctx context.Context, vault *core.Vault) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, total_minor FROM cash_flows WHERE vault_id = ? ORDER BY name`, vault.ID.String())
	if err != nil {
		return core.StoreError("select cash flows", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f     core.CashFlow
			idStr string
			minor int64
		)
		if err := rows.Scan(&idStr, &f.Name, &minor); err != nil {
			return core.StoreError("scan cash flow", err)
		}
		if f.ID, err = uuid.Parse(idStr); err != nil {
			return core.StoreError("parse cash flow id", err)
		}
		f.VaultID = vault.ID
		f.Total = core.NewMoney(minor, vault.Currency)
		vault.Flows = append(vault.Flows, f)
	}
	return rows.Err()
}

func (s *Store) loadMembers(ctx context.Context, vault *core.Vault) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user, role FROM vault_members WHERE vault_id = ?`, vault.ID.String())
	if err != nil {
		return core.StoreError("select vault members", err)
	}
	defer rows.Close()
	for rows.Next() {
		m := core.VaultMember{VaultID: vault.ID}
		var role string
		if err := rows.Scan(&m.User, &role); err != nil {
			return core.StoreError("scan vault member", err)
		}
		m.Role = core.Role(role)
		vault.Members = append(vault.Members, m)
	}
	if err := rows.Err(); err != nil {
		return core.StoreError("iterate vault members", err)
	}

	grants, err := s.db.QueryContext(ctx,
		`SELECT fm.flow_id, fm.user, fm.role
		 FROM flow_members fm JOIN cash_flows cf ON cf.id = fm.flow_id
		 WHERE cf.vault_id = ?`, vault.ID.String())
	if err != nil {
		return core.StoreError("select flow members", err)
	}
	defer grants.Close()
	for grants.Next() {
		var (
			g     core.FlowMember
			idStr string
			role  string
		)
		if err := grants.Scan(&idStr, &g.User, &role); err != nil {
			return core.StoreError("scan flow member", err)
		}
		if g.FlowID, err = uuid.Parse(idStr); err != nil {
			return core.StoreError("parse flow member id", err)
		}
		g.Role = core.Role(role)
		vault.FlowGrants = append(vault.FlowGrants, g)
	}
	return grants.Err()
}

func (s *Store) DeleteVault(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vaults WHERE id = ?`, id.String())
	if err != nil {
		return core.StoreError("delete vault", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundError("vault", id.String())
	}
	return nil
}

func (s *Store) HasTransactions(ctx context.Context, vaultID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transactions WHERE vault_id = ?`, vaultID.String()).Scan(&n)
	if err != nil {
		return false, core.StoreError("count transactions", err)
	}
	return n > 0, nil
}

func (s *Store) CreateWallet(ctx context.Context, wallet *core.Wallet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (id, vault_id, name, balance_minor) VALUES (?, ?, ?, ?)`,
		wallet.ID.String(), wallet.VaultID.String(), wallet.Name, wallet.Balance.Minor)
	if err != nil {
		if isUniqueViolation(err) {
			return &core.Error{Kind: core.KindExists, Entity: "wallet", ID: wallet.Name, Msg: "already present"}
		}
		return core.StoreError("insert wallet", err)
	}
	return nil
}

func (s *Store) CreateCashFlow(ctx context.Context, flow *core.CashFlow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cash_flows (id, vault_id, name, total_minor) VALUES (?, ?, ?, ?)`,
		flow.ID.String(), flow.VaultID.String(), flow.Name, flow.Total.Minor)
	if err != nil {
		if isUniqueViolation(err) {
			return &core.Error{Kind: core.KindExists, Entity: "cash_flow", ID: flow.Name, Msg: "already present"}
		}
		return core.StoreError("insert cash flow", err)
	}
	return nil
}

func (s *Store) UpsertVaultMember(ctx context.Context, member core.VaultMember) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_members (vault_id, user, role) VALUES (?, ?, ?)
		 ON CONFLICT (vault_id, user) DO UPDATE SET role = excluded.role`,
		member.VaultID.String(), member.User, string(member.Role))
	if err != nil {
		return core.StoreError("upsert vault member", err)
	}
	return nil
}

func (s *Store) RemoveVaultMember(ctx context.Context, vaultID uuid.UUID, user string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vault_members WHERE vault_id = ? AND user = ?`, vaultID.String(), user)
	if err != nil {
		return core.StoreError("delete vault member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundError("member", user)
	}
	return nil
}

func (s *Store) UpsertFlowMember(ctx context.Context, member core.FlowMember) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flow_members (flow_id, user, role) VALUES (?, ?, ?)
		 ON CONFLICT (flow_id, user) DO UPDATE SET role = excluded.role`,
		member.FlowID.String(), member.User, string(member.Role))
	if err != nil {
		return core.StoreError("upsert flow member", err)
	}
	return nil
}

func (s *Store) RemoveFlowMember(ctx context.Context, flowID uuid.UUID, user string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM flow_members WHERE flow_id = ? AND user = ?`, flowID.String(), user)
	if err != nil {
		return core.StoreError("delete flow member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundError("member", user)
	}
	return nil
}

const transactionColumns = `id, vault_id, kind, amount_minor, currency, occurred_at,
	category, note, created_by, voided_at, voided_by, refund_of`

func (s *Store) Transaction(ctx context.Context, id uuid.UUID) (*core.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id.String())
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundError("transaction", id.String())
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadLegs(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) Transactions(ctx context.Context, vaultID uuid.UUID, filter core.TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE vault_id = ?`
	args := []any{vaultID.String()}
	if !filter.IncludeVoided {
		query += ` AND voided_at IS NULL`
	}
	if filter.Kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*filter.Kind))
	}
	if !filter.Period.From.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, formatTime(filter.Period.From))
	}
	if !filter.Period.To.IsZero() {
		query += ` AND occurred_at < ?`
		args = append(args, formatTime(filter.Period.To))
	}
	query += ` ORDER BY occurred_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.StoreError("select transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		if err := s.loadLegs(ctx, t); err != nil {
			return nil, err
		}
		// Wallet/flow narrowing needs the legs, so it happens here rather
		// than in SQL.
		if filter.Matches(t) {
			out = append(out, *t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreError("iterate transactions", err)
	}
	return out, nil
}

func (s *Store) RefundedMinor(ctx context.Context, originalID uuid.UUID) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount_minor) FROM transactions
		 WHERE kind = ? AND refund_of = ? AND voided_at IS NULL`,
		string(core.Refund), originalID.String()).Scan(&total)
	if err != nil {
		return 0, core.StoreError("sum refunds", err)
	}
	return total.Int64, nil
}

// CommitTransaction persists the record, its legs and every balance delta
// in one SQL transaction.
func (s *Store) CommitTransaction(ctx context.Context, commit core.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StoreError("begin commit", err)
	}
	defer tx.Rollback()

	t := commit.Transaction
	refundOf := sql.NullString{}
	if t.RefundOf != nil {
		refundOf = sql.NullString{String: t.RefundOf.String(), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', ?)`,
		t.ID.String(), t.VaultID.String(), string(t.Kind), t.Amount.Minor, string(t.Amount.Currency),
		formatTime(t.OccurredAt), t.Category, t.Note, t.CreatedBy, refundOf)
	if err != nil {
		return core.StoreError("insert transaction", err)
	}

	for _, leg := range t.Legs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO legs (transaction_id, target_kind, target_id, amount_minor) VALUES (?, ?, ?, ?)`,
			t.ID.String(), string(leg.Target.Kind), leg.Target.ID.String(), leg.Minor); err != nil {
			return core.StoreError("insert leg", err)
		}
	}

	if err := applyDeltasTx(ctx, tx, commit.Deltas); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return core.StoreError("commit transaction", err)
	}
	return nil
}

// VoidTransaction flips the lifecycle state and applies the reversing
// deltas in one SQL transaction.
func (s *Store) VoidTransaction(ctx context.Context, void core.Void) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StoreError("begin void", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET voided_at = ?, voided_by = ? WHERE id = ? AND voided_at IS NULL`,
		formatTime(void.VoidedAt), void.VoidedBy, void.TransactionID.String())
	if err != nil {
		return core.StoreError("mark voided", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already voided; disambiguate for the caller.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM transactions WHERE id = ?`, void.TransactionID.String()).Scan(&exists); err != nil {
			return core.StoreError("check transaction", err)
		}
		if exists == 0 {
			return core.NotFoundError("transaction", void.TransactionID.String())
		}
		return &core.Error{Kind: core.KindAlreadyVoided, Entity: "transaction",
			ID: void.TransactionID.String(), Msg: "transaction already voided"}
	}

	if err := applyDeltasTx(ctx, tx, void.Deltas); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return core.StoreError("commit void", err)
	}
	return nil
}

func (s *Store) UpdateTransactionMeta(ctx context.Context, id uuid.UUID, patch core.MetaPatch) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if patch.Note != nil {
		sets = append(sets, "note = ?")
		args = append(args, *patch.Note)
	}
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *patch.Category)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id.String())

	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return core.StoreError("update transaction meta", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundError("transaction", id.String())
	}
	return nil
}

func applyDeltasTx(ctx context.Context, tx *sql.Tx, deltas []core.BalanceDelta) error {
	for _, d := range deltas {
		var query string
		switch d.Target.Kind {
		case core.TargetWallet:
			query = `UPDATE wallets SET balance_minor = balance_minor + ? WHERE id = ?`
		case core.TargetFlow:
			query = `UPDATE cash_flows SET total_minor = total_minor + ? WHERE id = ?`
		default:
			return core.StoreError("apply delta", fmt.Errorf("unknown target kind %q", d.Target.Kind))
		}
		res, err := tx.ExecContext(ctx, query, d.Minor, d.Target.ID.String())
		if err != nil {
			return core.StoreError("apply delta", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.NotFoundError(string(d.Target.Kind), d.Target.ID.String())
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		t          core.Transaction
		idStr      string
		vaultStr   string
		kind       string
		currency   string
		occurredAt string
		voidedAt   sql.NullString
		refundOf   sql.NullString
		minor      int64
	)
	err := row.Scan(&idStr, &vaultStr, &kind, &minor, &currency, &occurredAt,
		&t.Category, &t.Note, &t.CreatedBy, &voidedAt, &t.VoidedBy, &refundOf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, core.StoreError("scan transaction", err)
	}

	if t.ID, err = uuid.Parse(idStr); err != nil {
		return nil, core.StoreError("parse transaction id", err)
	}
	if t.VaultID, err = uuid.Parse(vaultStr); err != nil {
		return nil, core.StoreError("parse transaction vault id", err)
	}
	if t.Kind, err = core.ParseTransactionKind(kind); err != nil {
		return nil, err
	}
	t.Amount = core.NewMoney(minor, core.Currency(currency))
	if t.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, core.StoreError("parse occurred_at", err)
	}
	if voidedAt.Valid {
		ts, err := parseTime(voidedAt.String)
		if err != nil {
			return nil, core.StoreError("parse voided_at", err)
		}
		t.VoidedAt = &ts
	}
	if refundOf.Valid {
		id, err := uuid.Parse(refundOf.String)
		if err != nil {
			return nil, core.StoreError("parse refund_of", err)
		}
		t.RefundOf = &id
	}
	return &t, nil
}

func (s *Store) loadLegs(ctx context.Context, t *core.Transaction) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_kind, target_id, amount_minor FROM legs WHERE transaction_id = ? ORDER BY id`,
		t.ID.String())
	if err != nil {
		return core.StoreError("select legs", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind  string
			idStr string
			leg   core.Leg
		)
		if err := rows.Scan(&kind, &idStr, &leg.Minor); err != nil {
			return core.StoreError("scan leg", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return core.StoreError("parse leg target id", err)
		}
		leg.Target = core.LegTarget{Kind: core.TargetKind(kind), ID: id}
		t.Legs = append(t.Legs, leg)
	}
	return rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
