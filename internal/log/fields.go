package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldError         = "error"
	FieldUser          = "user"
	FieldVaultID       = "vault_id"
	FieldWalletID      = "wallet_id"
	FieldFlowID        = "flow_id"
	FieldTransactionID = "transaction_id"
	FieldKind          = "kind"
	FieldAmountMinor   = "amount_minor"
	FieldCurrency      = "currency"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentEvents  = "events"
	ComponentWorker  = "worker"
	ComponentCache   = "cache"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithUser adds the acting user field
func (f LogFields) WithUser(user string) LogFields {
	f[FieldUser] = user
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithTransaction adds transaction-related fields
func (f LogFields) WithTransaction(id, vaultID, kind string, amountMinor int64) LogFields {
	f[FieldTransactionID] = id
	f[FieldVaultID] = vaultID
	f[FieldKind] = kind
	f[FieldAmountMinor] = amountMinor
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
