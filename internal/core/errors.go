package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so the transport layer can map them
// to response codes without re-deriving the cause.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindInvalidAmount    ErrorKind = "invalid_amount"
	KindInvalidState     ErrorKind = "invalid_state"
	KindAlreadyVoided    ErrorKind = "already_voided"
	KindImmutable        ErrorKind = "immutable"
	KindSameWallet       ErrorKind = "same_wallet"
	KindSameFlow         ErrorKind = "same_flow"
	KindCurrencyMismatch ErrorKind = "currency_mismatch"
	KindExists           ErrorKind = "exists"
	KindStoreFailure     ErrorKind = "store_failure"
)

// Sentinel values for errors.Is checks. A *core.Error matches the sentinel
// carrying its kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrInvalidAmount    = &Error{Kind: KindInvalidAmount}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrAlreadyVoided    = &Error{Kind: KindAlreadyVoided}
	ErrImmutable        = &Error{Kind: KindImmutable}
	ErrSameWallet       = &Error{Kind: KindSameWallet}
	ErrSameFlow         = &Error{Kind: KindSameFlow}
	ErrCurrencyMismatch = &Error{Kind: KindCurrencyMismatch}
	ErrExists           = &Error{Kind: KindExists}
	ErrStoreFailure     = &Error{Kind: KindStoreFailure}
)

// Error is the structured engine error: a kind plus the entity and id the
// failure refers to.
type Error struct {
	Kind   ErrorKind
	Entity string // "vault", "wallet", "cash_flow", "transaction", "member", ...
	ID     string
	Msg    string
	Err    error // wrapped cause, set for store failures
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Entity != "" && e.ID != "":
		msg = fmt.Sprintf("%s %q: %s", e.Entity, e.ID, msg)
	case e.Entity != "":
		msg = fmt.Sprintf("%s: %s", e.Entity, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so callers can write
// errors.Is(err, core.ErrNotFound) regardless of entity context.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NotFoundError reports a missing entity.
func NotFoundError(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Msg: "not found"}
}

// UnauthorizedError reports a caller without the required membership.
func UnauthorizedError(user, vaultID string) *Error {
	return &Error{Kind: KindUnauthorized, Entity: "vault", ID: vaultID, Msg: fmt.Sprintf("user %q lacks access", user)}
}

// InvalidAmountError reports a rejected amount.
func InvalidAmountError(msg string) *Error {
	return &Error{Kind: KindInvalidAmount, Entity: "amount", Msg: msg}
}

// StoreError wraps an opaque failure from the durable layer. The engine
// surfaces these untouched; retry policy belongs to the caller.
func StoreError(op string, err error) *Error {
	return &Error{Kind: KindStoreFailure, Entity: "store", Msg: op, Err: err}
}
