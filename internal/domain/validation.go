package domain

import (
	"net/mail"
	"strings"
)

// Validate checks a provisioning request before any collaborator is called.
func (r ProvisioningRequest) Validate() error {
	required := []struct {
		field, value string
	}{
		{"username", r.Username},
		{"password", r.Password},
		{"email", r.Email},
		{"role", r.Role},
		{"firstname", r.FirstName},
		{"lastname", r.LastName},
		{"postal_address", r.PostalAddress},
		{"identity_ref", r.IdentityRef},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return Errorf(ValidationFailed, "%s is required", f.field)
		}
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return Errorf(ValidationFailed, "email %q is malformed", r.Email)
	}
	if r.Birthdate.IsZero() {
		return Errorf(ValidationFailed, "birthdate is required")
	}

	if r.Account != nil {
		if strings.TrimSpace(r.Account.Number) == "" {
			return Errorf(ValidationFailed, "account_number is required")
		}
		if r.Account.OpeningAmount.IsNegative() {
			return Errorf(ValidationFailed, "opening_amount must not be negative")
		}
		if !r.Account.OpeningAmount.Equal(r.Account.OpeningAmount.Truncate(MoneyScale)) {
			return Errorf(ValidationFailed, "opening_amount has more than %d decimal places", MoneyScale)
		}
	}
	return nil
}

// Validate rejects transfers that can never succeed, before any account is read.
func (r TransferRequest) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return Errorf(ValidationFailed, "source_account is required")
	}
	if strings.TrimSpace(r.Destination) == "" {
		return Errorf(ValidationFailed, "destination_account is required")
	}
	if !r.Amount.IsPositive() {
		return Errorf(ValidationFailed, "amount must be greater than zero")
	}
	if !r.Amount.Equal(r.Amount.Truncate(MoneyScale)) {
		return Errorf(ValidationFailed, "amount has more than %d decimal places", MoneyScale)
	}
	if r.Source == r.Destination {
		return Errorf(ValidationFailed, "source and destination accounts must differ")
	}
	return nil
}
