package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of calendar dates such as birthdates.
const DateLayout = "2006-01-02"

// ProvisionRequest is the payload of both provisioning endpoints.
type ProvisionRequest struct {
	Username      string           `json:"username"`
	Password      string           `json:"password"`
	Email         string           `json:"email"`
	Role          string           `json:"role"`
	FirstName     string           `json:"firstname"`
	LastName      string           `json:"lastname"`
	Birthdate     string           `json:"birthdate"`
	PostalAddress string           `json:"postal_address"`
	IdentityRef   string           `json:"identity_ref"`
	AccountNumber string           `json:"account_number,omitempty"`
	InitialAmount *decimal.Decimal `json:"initial_amount,omitempty"`
}

// TransferRequest is the payload from the client.
type TransferRequest struct {
	SourceAccount      string          `json:"source_account"`
	DestinationAccount string          `json:"destination_account"`
	Amount             decimal.Decimal `json:"amount"`
	Reason             string          `json:"reason"`
}

// LastActivityRequest lists the accounts whose last ledger activity is wanted.
type LastActivityRequest struct {
	AccountNumbers []string `json:"account_numbers"`
}

// ErrorDetail is the body of every failed response.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Partial is set when a transfer recorded its ledger entries but did not
	// confirm both balance updates.
	Partial any `json:"partial,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ResponseBody   json.RawMessage
	ResponseStatus int
	CreatedAt      time.Time
}

const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// Collaborator wire formats.

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type TokenResponse struct {
	UserID   int64    `json:"userId"`
	Username string   `json:"username"`
	JwtToken string   `json:"jwtToken"`
	Roles    []string `json:"roles,omitempty"`
}

type CreateCustomerRequest struct {
	UserID        int64  `json:"userId"`
	FirstName     string `json:"firstname"`
	LastName      string `json:"lastname"`
	Birthdate     string `json:"birthdate"`
	PostalAddress string `json:"postalAddress"`
	IdentityRef   string `json:"identityRef"`
}

type CustomerResponse struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"userId"`
	FirstName     string `json:"firstname"`
	LastName      string `json:"lastname"`
	Birthdate     string `json:"birthdate"`
	PostalAddress string `json:"postalAddress"`
	IdentityRef   string `json:"identityRef"`
}

type CreateBankAccountRequest struct {
	Rib        string          `json:"rib"`
	Amount     decimal.Decimal `json:"amount"`
	CustomerID int64           `json:"customerId"`
}

type BankAccountResponse struct {
	ID            int64           `json:"id"`
	Rib           string          `json:"rib"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"createdAt"`
	AccountStatus string          `json:"accountStatus"`
	CustomerID    int64           `json:"customerId"`
}

type UpdateBalanceRequest struct {
	NewBalance      decimal.Decimal `json:"newBalance"`
	ExpectedBalance decimal.Decimal `json:"expectedBalance"`
}

type SendCredentialsRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

type SendCredentialsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RemoteError is the error body returned by collaborator services.
type RemoteError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
