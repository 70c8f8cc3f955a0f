package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/domain"
)

// IdentityDirectory owns login identities.
type IdentityDirectory interface {
	// CreateIdentity rejects duplicate usernames and emails with domain.DuplicateEntity
	// before storing anything.
	CreateIdentity(ctx context.Context, in domain.NewIdentity) (domain.Identity, error)
	DeleteIdentity(ctx context.Context, username string) error
}

// CustomerDirectory owns customer profiles keyed by identity id.
type CustomerDirectory interface {
	CreateProfile(ctx context.Context, in domain.Profile) (domain.Profile, error)
	DeleteProfileByIdentityID(ctx context.Context, identityID string) error
}

// AccountDirectory owns account records and is the sole arbiter of balances.
type AccountDirectory interface {
	CreateAccount(ctx context.Context, in domain.NewAccount) (domain.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	GetAccountByNumber(ctx context.Context, number string) (domain.Account, error)
	// ApplyBalance replaces the balance of one account. It fails with
	// domain.Conflict when the stored balance no longer equals expected.
	ApplyBalance(ctx context.Context, id string, expected, balance decimal.Decimal) (domain.Account, error)
}

// LedgerStore appends immutable ledger entries. A batch is recorded atomically.
type LedgerStore interface {
	AppendEntries(ctx context.Context, entries ...domain.LedgerEntry) ([]domain.LedgerEntry, error)
}

// LedgerHistory reads back what the ledger recorded.
type LedgerHistory interface {
	ListEntries(ctx context.Context, accountNumber string, limit, offset int) ([]domain.LedgerEntry, error)
	LastActivity(ctx context.Context, accountNumbers []string) ([]domain.ActivitySummary, error)
}

// Notifier delivers the credentials message. authToken is forwarded to the
// notification service as the caller's bearer token.
type Notifier interface {
	SendCredentials(ctx context.Context, creds domain.Credentials, authToken string) error
}

// Locker serialises transfers touching the same accounts.
type Locker interface {
	LockAccounts(ctx context.Context, accountNumbers ...string) (unlock func(context.Context) error, err error)
}
