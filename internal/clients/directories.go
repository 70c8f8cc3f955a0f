package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/models"
)

// IdentityClient is the Identity Directory over HTTP.
type IdentityClient struct {
	rest *restClient
}

func NewIdentityClient(cfg Config, logger logrus.FieldLogger) *IdentityClient {
	return &IdentityClient{rest: newRestClient("identity", cfg, logger)}
}

func (c *IdentityClient) CreateIdentity(ctx context.Context, in domain.NewIdentity) (domain.Identity, error) {
	path := "/api/auth/register"
	if in.Role != "" {
		path += "/" + url.PathEscape(strings.ToUpper(in.Role))
	}
	var out models.TokenResponse
	err := c.rest.call(ctx, http.MethodPost, path, nil, models.CreateUserRequest{
		Username: in.Username,
		Password: in.Password,
		Email:    in.Email,
	}, &out)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{
		ID:       strconv.FormatInt(out.UserID, 10),
		Username: out.Username,
		Token:    out.JwtToken,
	}, nil
}

func (c *IdentityClient) DeleteIdentity(ctx context.Context, username string) error {
	return c.rest.call(ctx, http.MethodDelete, "/api/auth/users/"+url.PathEscape(username), nil, nil, nil)
}

// CustomerClient is the Customer Directory over HTTP.
type CustomerClient struct {
	rest *restClient
}

func NewCustomerClient(cfg Config, logger logrus.FieldLogger) *CustomerClient {
	return &CustomerClient{rest: newRestClient("customer", cfg, logger)}
}

func (c *CustomerClient) CreateProfile(ctx context.Context, in domain.Profile) (domain.Profile, error) {
	userID, err := parseID("identity", in.IdentityID)
	if err != nil {
		return domain.Profile{}, err
	}
	var out models.CustomerResponse
	err = c.rest.call(ctx, http.MethodPost, "/api/customers", nil, models.CreateCustomerRequest{
		UserID:        userID,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Birthdate:     in.Birthdate.Format(models.DateLayout),
		PostalAddress: in.PostalAddress,
		IdentityRef:   in.IdentityRef,
	}, &out)
	if err != nil {
		return domain.Profile{}, err
	}

	birthdate, err := time.Parse(models.DateLayout, out.Birthdate)
	if err != nil {
		birthdate = in.Birthdate
	}
	return domain.Profile{
		ID:            strconv.FormatInt(out.ID, 10),
		IdentityID:    strconv.FormatInt(out.UserID, 10),
		FirstName:     out.FirstName,
		LastName:      out.LastName,
		Birthdate:     birthdate,
		PostalAddress: out.PostalAddress,
		IdentityRef:   out.IdentityRef,
	}, nil
}

func (c *CustomerClient) DeleteProfileByIdentityID(ctx context.Context, identityID string) error {
	return c.rest.call(ctx, http.MethodDelete, "/api/customers/user/"+url.PathEscape(identityID), nil, nil, nil)
}

// AccountClient is the Account Directory over HTTP.
type AccountClient struct {
	rest *restClient
}

func NewAccountClient(cfg Config, logger logrus.FieldLogger) *AccountClient {
	return &AccountClient{rest: newRestClient("account", cfg, logger)}
}

func (c *AccountClient) CreateAccount(ctx context.Context, in domain.NewAccount) (domain.Account, error) {
	customerID, err := parseID("customer", in.CustomerID)
	if err != nil {
		return domain.Account{}, err
	}
	var out models.BankAccountResponse
	err = c.rest.call(ctx, http.MethodPost, "/api/accounts", nil, models.CreateBankAccountRequest{
		Rib:        in.Number,
		Amount:     in.OpeningAmount,
		CustomerID: customerID,
	}, &out)
	if err != nil {
		return domain.Account{}, err
	}
	return toAccount(out), nil
}

func (c *AccountClient) DeleteAccount(ctx context.Context, id string) error {
	return c.rest.call(ctx, http.MethodDelete, "/api/accounts/"+url.PathEscape(id), nil, nil, nil)
}

func (c *AccountClient) GetAccountByNumber(ctx context.Context, number string) (domain.Account, error) {
	var out models.BankAccountResponse
	if err := c.rest.call(ctx, http.MethodGet, "/api/accounts/rib/"+url.PathEscape(number), nil, nil, &out); err != nil {
		return domain.Account{}, err
	}
	return toAccount(out), nil
}

// ApplyBalance sends the new balance together with the balance it was
// computed from. A 409 answer means another writer got there first.
func (c *AccountClient) ApplyBalance(ctx context.Context, id string, expected, balance decimal.Decimal) (domain.Account, error) {
	var out models.BankAccountResponse
	err := c.rest.call(ctx, http.MethodPut, "/api/accounts/"+url.PathEscape(id)+"/balance", nil, models.UpdateBalanceRequest{
		NewBalance:      balance,
		ExpectedBalance: expected,
	}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusConflict {
			return domain.Account{}, domain.NewError(domain.Conflict, "balance of account "+id+" changed", se)
		}
		return domain.Account{}, err
	}
	return toAccount(out), nil
}

func toAccount(in models.BankAccountResponse) domain.Account {
	status := domain.AccountStatus(strings.ToUpper(in.AccountStatus))
	if status == "" {
		status = domain.StatusOpen
	}
	return domain.Account{
		ID:         strconv.FormatInt(in.ID, 10),
		Number:     in.Rib,
		Balance:    in.Amount,
		Status:     status,
		CustomerID: strconv.FormatInt(in.CustomerID, 10),
		CreatedAt:  in.CreatedAt,
	}
}

func parseID(what, id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, domain.NewError(domain.ValidationFailed, what+" id "+id+" is not numeric", err)
	}
	return n, nil
}
