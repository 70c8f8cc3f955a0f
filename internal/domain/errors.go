package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is the stable classification of a failure returned by the core.
// A Kind is itself an error so callers can write errors.Is(err, domain.NotFound).
type Kind string

const (
	ValidationFailed    Kind = "VALIDATION_FAILED"
	DuplicateEntity     Kind = "DUPLICATE_ENTITY"
	NotFound            Kind = "NOT_FOUND"
	AccountBlocked      Kind = "ACCOUNT_BLOCKED"
	InsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	UpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	PartiallyApplied    Kind = "PARTIALLY_APPLIED"

	// Conflict is only produced by the Account Directory when a balance
	// update does not match the expected previous balance.
	Conflict Kind = "CONFLICT"
)

func (k Kind) Error() string {
	return string(k)
}

// Error is the typed failure surfaced by the saga, the transfer engine and the collaborator clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Partial is set on PartiallyApplied transfer failures.
	Partial *PartialApplication
	// Compensations lists the unwind steps that ran after a saga failure.
	Compensations []CompensationOutcome
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Kind target against the error's own kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// NewError builds a typed error around an optional cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Errorf builds a typed error with a formatted message and no cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err by its outermost typed error. Untyped errors are
// treated as a collaborator call that could not complete.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return UpstreamUnavailable
}

// PartialApplication documents which balance mutations of a transfer
// were confirmed after its ledger entries had been written.
type PartialApplication struct {
	TransferID         uuid.UUID   `json:"transfer_id"`
	Debit              LedgerEntry `json:"debit"`
	Credit             LedgerEntry `json:"credit"`
	SourceApplied      bool        `json:"source_applied"`
	DestinationApplied bool        `json:"destination_applied"`
}

// CompensationOutcome records one unwind step of a failed saga.
type CompensationOutcome struct {
	Step string `json:"step"`
	Err  error  `json:"-"`
}

func (c CompensationOutcome) Succeeded() bool {
	return c.Err == nil
}

func (c CompensationOutcome) String() string {
	if c.Err == nil {
		return c.Step + ": ok"
	}
	return c.Step + ": " + c.Err.Error()
}

// SummarizeCompensations renders outcomes as "step: ok, step: error" for logs.
func SummarizeCompensations(outcomes []CompensationOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, o.String())
	}
	return strings.Join(parts, ", ")
}

var (
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)
