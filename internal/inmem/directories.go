package inmem

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/domain"
)

type identityRecord struct {
	domain.Identity
	email string
	role  string
}

// IdentityDirectory stores login identities keyed by username.
type IdentityDirectory struct {
	journal *Journal

	mu     sync.Mutex
	seq    int64
	byName map[string]identityRecord
}

func NewIdentityDirectory(j *Journal) *IdentityDirectory {
	return &IdentityDirectory{journal: j, byName: make(map[string]identityRecord)}
}

func (d *IdentityDirectory) CreateIdentity(_ context.Context, in domain.NewIdentity) (domain.Identity, error) {
	if err := d.journal.enter(OpCreateIdentity); err != nil {
		return domain.Identity{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byName[in.Username]; ok {
		return domain.Identity{}, domain.Errorf(domain.DuplicateEntity, "username %s already exists", in.Username)
	}
	for _, rec := range d.byName {
		if rec.email == in.Email {
			return domain.Identity{}, domain.Errorf(domain.DuplicateEntity, "email %s already exists", in.Email)
		}
	}

	d.seq++
	rec := identityRecord{
		Identity: domain.Identity{
			ID:       strconv.FormatInt(d.seq, 10),
			Username: in.Username,
			Token:    uuid.NewString(),
		},
		email: in.Email,
		role:  in.Role,
	}
	d.byName[in.Username] = rec
	return rec.Identity, nil
}

func (d *IdentityDirectory) DeleteIdentity(_ context.Context, username string) error {
	if err := d.journal.enter(OpDeleteIdentity); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[username]; !ok {
		return domain.Errorf(domain.NotFound, "user %s not found", username)
	}
	delete(d.byName, username)
	return nil
}

// Exists reports whether username is stored.
func (d *IdentityDirectory) Exists(username string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byName[username]
	return ok
}

func (d *IdentityDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byName)
}

// CustomerDirectory stores customer profiles keyed by identity id.
type CustomerDirectory struct {
	journal *Journal

	mu         sync.Mutex
	seq        int64
	byIdentity map[string]domain.Profile
}

func NewCustomerDirectory(j *Journal) *CustomerDirectory {
	return &CustomerDirectory{journal: j, byIdentity: make(map[string]domain.Profile)}
}

func (d *CustomerDirectory) CreateProfile(_ context.Context, in domain.Profile) (domain.Profile, error) {
	if err := d.journal.enter(OpCreateProfile); err != nil {
		return domain.Profile{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byIdentity[in.IdentityID]; ok {
		return domain.Profile{}, domain.Errorf(domain.DuplicateEntity, "customer for user %s already exists", in.IdentityID)
	}
	for _, p := range d.byIdentity {
		if p.IdentityRef == in.IdentityRef {
			return domain.Profile{}, domain.Errorf(domain.DuplicateEntity, "identity reference %s already exists", in.IdentityRef)
		}
	}

	d.seq++
	in.ID = strconv.FormatInt(d.seq, 10)
	d.byIdentity[in.IdentityID] = in
	return in, nil
}

func (d *CustomerDirectory) DeleteProfileByIdentityID(_ context.Context, identityID string) error {
	if err := d.journal.enter(OpDeleteProfile); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byIdentity[identityID]; !ok {
		return domain.Errorf(domain.NotFound, "customer for user %s not found", identityID)
	}
	delete(d.byIdentity, identityID)
	return nil
}

func (d *CustomerDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byIdentity)
}

// AccountDirectory stores accounts keyed by id with a unique account number.
type AccountDirectory struct {
	journal *Journal

	mu       sync.Mutex
	seq      int64
	byID     map[string]domain.Account
	byNumber map[string]string
}

func NewAccountDirectory(j *Journal) *AccountDirectory {
	return &AccountDirectory{
		journal:  j,
		byID:     make(map[string]domain.Account),
		byNumber: make(map[string]string),
	}
}

func (d *AccountDirectory) CreateAccount(_ context.Context, in domain.NewAccount) (domain.Account, error) {
	if err := d.journal.enter(OpCreateAccount); err != nil {
		return domain.Account{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byNumber[in.Number]; ok {
		return domain.Account{}, domain.Errorf(domain.DuplicateEntity, "bank account with number %s already exists", in.Number)
	}

	d.seq++
	acc := domain.Account{
		ID:         strconv.FormatInt(d.seq, 10),
		Number:     in.Number,
		Balance:    in.OpeningAmount,
		Status:     domain.StatusOpen,
		CustomerID: in.CustomerID,
		CreatedAt:  time.Now().UTC(),
	}
	d.byID[acc.ID] = acc
	d.byNumber[acc.Number] = acc.ID
	return acc, nil
}

func (d *AccountDirectory) DeleteAccount(_ context.Context, id string) error {
	if err := d.journal.enter(OpDeleteAccount); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, ok := d.byID[id]
	if !ok {
		return domain.Errorf(domain.NotFound, "bank account %s not found", id)
	}
	delete(d.byID, id)
	delete(d.byNumber, acc.Number)
	return nil
}

func (d *AccountDirectory) GetAccountByNumber(_ context.Context, number string) (domain.Account, error) {
	if err := d.journal.enter(OpGetAccount); err != nil {
		return domain.Account{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byNumber[number]
	if !ok {
		return domain.Account{}, domain.Errorf(domain.NotFound, "bank account with number %s not found", number)
	}
	return d.byID[id], nil
}

func (d *AccountDirectory) ApplyBalance(_ context.Context, id string, expected, balance decimal.Decimal) (domain.Account, error) {
	if err := d.journal.enter(OpApplyBalance); err != nil {
		return domain.Account{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, ok := d.byID[id]
	if !ok {
		return domain.Account{}, domain.Errorf(domain.NotFound, "bank account %s not found", id)
	}
	if !acc.Balance.Equal(expected) {
		return domain.Account{}, domain.Errorf(domain.Conflict,
			"bank account %s balance is %s, expected %s", id, acc.Balance, expected)
	}
	acc.Balance = balance
	d.byID[id] = acc
	return acc, nil
}

// SetStatus changes the status of the account with the given number.
func (d *AccountDirectory) SetStatus(number string, status domain.AccountStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byNumber[number]
	if !ok {
		return domain.Errorf(domain.NotFound, "bank account with number %s not found", number)
	}
	acc := d.byID[id]
	acc.Status = status
	d.byID[id] = acc
	return nil
}

// Lookup returns the stored account without touching the journal.
func (d *AccountDirectory) Lookup(number string) (domain.Account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byNumber[number]
	if !ok {
		return domain.Account{}, false
	}
	return d.byID[id], true
}

func (d *AccountDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}
