package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits carried by amounts and balances.
const MoneyScale = 2

// DefaultRole is granted to identities created with a bank account when no role is given.
const DefaultRole = "CLIENT"

// AccountStatus is the lifecycle state of an account owned by the Account Directory.
type AccountStatus string

const (
	StatusOpen    AccountStatus = "OPEN"
	StatusBlocked AccountStatus = "BLOCKED"
	StatusClosed  AccountStatus = "CLOSED"
)

// AllowsTransfers reports whether funds may leave or enter an account in this status.
func (s AccountStatus) AllowsTransfers() bool {
	return s != StatusBlocked && s != StatusClosed
}

// Account is the core's view of an account record.
type Account struct {
	ID         string          `json:"id"`
	Number     string          `json:"account_number"`
	Balance    decimal.Decimal `json:"balance"`
	Status     AccountStatus   `json:"status"`
	CustomerID string          `json:"customer_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Direction is the side of a funds movement recorded by a ledger entry.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// LedgerEntry is one immutable leg of a transfer.
// The signed amounts of the two entries sharing a TransferID always sum to zero.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	TransferID    uuid.UUID       `json:"transfer_id"`
	AccountNumber string          `json:"account_number"`
	Direction     Direction       `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Counterparty  string          `json:"counterparty"`
	Reason        string          `json:"reason"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the amount as a balance delta: negative for debits.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// TransferRequest asks the engine to move Amount from Source to Destination.
type TransferRequest struct {
	Source      string          `json:"source_account"`
	Destination string          `json:"destination_account"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
}

// TransferResult is returned only once both balances have been applied.
type TransferResult struct {
	TransferID            uuid.UUID       `json:"transfer_id"`
	Debit                 LedgerEntry     `json:"debit"`
	Credit                LedgerEntry     `json:"credit"`
	NewSourceBalance      decimal.Decimal `json:"new_source_balance"`
	NewDestinationBalance decimal.Decimal `json:"new_destination_balance"`
}

// TransferState tracks how far a single transfer attempt progressed.
type TransferState string

const (
	StateValidating                TransferState = "VALIDATING"
	StateSourceChecked             TransferState = "SOURCE_CHECKED"
	StateDestinationChecked        TransferState = "DESTINATION_CHECKED"
	StateLedgerWritten             TransferState = "LEDGER_WRITTEN"
	StateSourceBalanceApplied      TransferState = "SOURCE_BALANCE_APPLIED"
	StateDestinationBalanceApplied TransferState = "DESTINATION_BALANCE_APPLIED"
	StateRejected                  TransferState = "REJECTED"
	StatePartiallyApplied          TransferState = "PARTIALLY_APPLIED"
)

// HasSideEffects reports whether a transfer that stopped in this state left ledger records behind.
func (s TransferState) HasSideEffects() bool {
	switch s {
	case StateLedgerWritten, StateSourceBalanceApplied, StateDestinationBalanceApplied, StatePartiallyApplied:
		return true
	}
	return false
}

// AccountOpening carries the optional account fields of a full provisioning request.
type AccountOpening struct {
	Number        string          `json:"account_number"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

// ProvisioningRequest is the input of the provisioning saga. A nil Account
// provisions a client without a bank account.
type ProvisioningRequest struct {
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	Email         string          `json:"email"`
	Role          string          `json:"role"`
	FirstName     string          `json:"firstname"`
	LastName      string          `json:"lastname"`
	Birthdate     time.Time       `json:"birthdate"`
	PostalAddress string          `json:"postal_address"`
	IdentityRef   string          `json:"identity_ref"`
	Account       *AccountOpening `json:"account,omitempty"`

	// CallerToken authenticates the outbound credentials notification.
	CallerToken string `json:"-"`
}

// Identity is a login identity created by the Identity Directory.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// NewIdentity is the input of the Identity Directory create operation.
type NewIdentity struct {
	Username string
	Password string
	Email    string
	Role     string
}

// Profile is a customer profile bound to an identity.
type Profile struct {
	ID            string    `json:"id"`
	IdentityID    string    `json:"identity_id"`
	FirstName     string    `json:"firstname"`
	LastName      string    `json:"lastname"`
	Birthdate     time.Time `json:"birthdate"`
	PostalAddress string    `json:"postal_address"`
	IdentityRef   string    `json:"identity_ref"`
}

// NewAccount is the input of the Account Directory create operation.
type NewAccount struct {
	Number        string
	OpeningAmount decimal.Decimal
	CustomerID    string
}

// ProvisioningResult is returned only when every forward step succeeded.
type ProvisioningResult struct {
	IdentityID string   `json:"identity_id"`
	Username   string   `json:"username"`
	Token      string   `json:"token"`
	Profile    Profile  `json:"customer"`
	Account    *Account `json:"bank_account,omitempty"`
	Message    string   `json:"message"`
}

// Credentials is the payload of the best-effort welcome notification.
type Credentials struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// ActivitySummary reports the most recent ledger activity of an account.
type ActivitySummary struct {
	AccountNumber string     `json:"account_number"`
	LastEntryAt   *time.Time `json:"last_transaction_date"`
}
