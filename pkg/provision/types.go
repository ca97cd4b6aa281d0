package provision

import "time"

// PaymentEvent is a verified payment notification handed in by a webhook
// handler. Signature verification happens before an event reaches this
// package.
type PaymentEvent struct {
	TransactionID string
	Email         string
	Product       string
	Amount        float64
	Currency      string
	Origin        string
}

// Account is the stored entitlement record for one end user.
// The identifier is the storage path key, not a field of the record.
type Account struct {
	Active     bool       `json:"active"`
	Cycles     int64      `json:"cycles"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	Email      string     `json:"email"`
	Origin     string     `json:"origin"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// TransactionRecord marks one payment transaction as processed and points at
// the account it provisioned.
type TransactionRecord struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Product   string    `json:"product,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Outcome classifies how a provisioning call concluded.
type Outcome string

const (
	// OutcomeProvisioned means a new account was created.
	OutcomeProvisioned Outcome = "provisioned"
	// OutcomeAlreadyProcessed means the transaction was seen before; nothing
	// was written. Redelivered webhooks land here.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeConcurrentDuplicate means a concurrent delivery of the same
	// transaction won the conditional write; nothing was written.
	OutcomeConcurrentDuplicate Outcome = "concurrent_duplicate"
)

// Result is the successful conclusion of a Provision call.
// AccountID is set only for OutcomeProvisioned.
type Result struct {
	Outcome   Outcome
	AccountID string
}

// AccountPath returns the storage path of an account record.
func AccountPath(accountID string) string {
	return accountPathPrefix + accountID
}

// TransactionPath returns the storage path of a transaction record.
func TransactionPath(transactionID string) string {
	return transactionPathPrefix + transactionID
}
