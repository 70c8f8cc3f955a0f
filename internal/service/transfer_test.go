package service_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/inmem"
	"github.com/punchamoorthee/bankops/internal/lock"
	"github.com/punchamoorthee/bankops/internal/service"
)

type transferFixture struct {
	journal  *inmem.Journal
	accounts *inmem.AccountDirectory
	ledger   *inmem.Ledger
	svc      *service.TransferService
}

func newTransferFixture(t *testing.T, balances map[string]string) *transferFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	j := inmem.NewJournal()
	f := &transferFixture{
		journal:  j,
		accounts: inmem.NewAccountDirectory(j),
		ledger:   inmem.NewLedger(j),
	}
	for number, balance := range balances {
		_, err := f.accounts.CreateAccount(context.Background(), domain.NewAccount{
			Number:        number,
			OpeningAmount: decimal.RequireFromString(balance),
			CustomerID:    "c-" + number,
		})
		require.NoError(t, err)
	}
	f.svc = service.NewTransferService(logger, f.accounts, f.ledger, lock.NewLocal(), service.TransferConfig{CallTimeout: time.Second})
	return f
}

func (f *transferFixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	acc, ok := f.accounts.Lookup(number)
	require.True(t, ok, "account %s", number)
	return acc.Balance
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, amount(want).Equal(got), "want %s, got %s", want, got)
}

func TestProcessTransfer_MovesFunds(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "100.00", "B": "50.00"})

	result, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{
		Source: "A", Destination: "B", Amount: amount("30"), Reason: "rent",
	})
	require.NoError(t, err)

	assertMoney(t, "70", f.balance(t, "A"))
	assertMoney(t, "80", f.balance(t, "B"))
	assertMoney(t, "70", result.NewSourceBalance)
	assertMoney(t, "80", result.NewDestinationBalance)

	entries := f.ledger.Entries()
	require.Len(t, entries, 2)
	debit, credit := entries[0], entries[1]

	assert.Equal(t, domain.Debit, debit.Direction)
	assert.Equal(t, "A", debit.AccountNumber)
	assert.Equal(t, "B", debit.Counterparty)
	assert.Equal(t, "Transfer to B", debit.Description)
	assert.Equal(t, domain.Credit, credit.Direction)
	assert.Equal(t, "B", credit.AccountNumber)
	assert.Equal(t, "Transfer from A", credit.Description)
	assert.Equal(t, "rent", credit.Reason)

	assert.Equal(t, result.TransferID, debit.TransferID)
	assert.Equal(t, result.TransferID, credit.TransferID)
	assert.NotEqual(t, debit.ID, credit.ID)
	assert.True(t, debit.Signed().Add(credit.Signed()).IsZero())

	// Ledger first, then source, then destination.
	assert.Equal(t, []string{
		inmem.OpGetAccount,
		inmem.OpGetAccount,
		inmem.OpAppendEntries,
		inmem.OpApplyBalance,
		inmem.OpApplyBalance,
	}, f.journal.Calls()[2:])
}

func TestProcessTransfer_WholeBalanceMayLeave(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "30.00", "B": "0"})

	_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("30")})
	require.NoError(t, err)

	assertMoney(t, "0", f.balance(t, "A"))
	assertMoney(t, "30", f.balance(t, "B"))
}

func TestProcessTransfer_InsufficientFunds(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "20.00", "B": "50.00"})

	_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("30")})
	require.Error(t, err)

	assert.Equal(t, domain.InsufficientFunds, domain.KindOf(err))
	assert.Contains(t, err.Error(), "balance 20.00 is lower than requested amount 30.00")
	assert.Empty(t, f.ledger.Entries())
	assert.Zero(t, f.journal.Count(inmem.OpApplyBalance))
	assertMoney(t, "20", f.balance(t, "A"))
	assertMoney(t, "50", f.balance(t, "B"))
}

func TestProcessTransfer_RejectsUnusableAccounts(t *testing.T) {
	cases := []struct {
		name   string
		number string
		status domain.AccountStatus
	}{
		{"blocked source", "A", domain.StatusBlocked},
		{"closed source", "A", domain.StatusClosed},
		{"blocked destination", "B", domain.StatusBlocked},
		{"closed destination", "B", domain.StatusClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTransferFixture(t, map[string]string{"A": "100", "B": "50"})
			require.NoError(t, f.accounts.SetStatus(tc.number, tc.status))

			_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("10")})
			require.Error(t, err)

			assert.Equal(t, domain.AccountBlocked, domain.KindOf(err))
			assert.Empty(t, f.ledger.Entries())
			assertMoney(t, "100", f.balance(t, "A"))
			assertMoney(t, "50", f.balance(t, "B"))
		})
	}
}

func TestProcessTransfer_UnknownAccounts(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "100"})

	_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "X", Destination: "A", Amount: amount("1")})
	assert.Equal(t, domain.NotFound, domain.KindOf(err))

	_, err = f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "X", Amount: amount("1")})
	assert.Equal(t, domain.NotFound, domain.KindOf(err))
	assert.Contains(t, err.Error(), "destination account X not found")

	assert.Empty(t, f.ledger.Entries())
}

func TestProcessTransfer_ValidationHappensFirst(t *testing.T) {
	cases := map[string]domain.TransferRequest{
		"same account":   {Source: "A", Destination: "A", Amount: amount("1")},
		"zero amount":    {Source: "A", Destination: "B", Amount: amount("0")},
		"negative":       {Source: "A", Destination: "B", Amount: amount("-5")},
		"sub-cent":       {Source: "A", Destination: "B", Amount: amount("0.001")},
		"missing source": {Destination: "B", Amount: amount("1")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			f := newTransferFixture(t, map[string]string{"A": "100", "B": "50"})
			calls := len(f.journal.Calls())

			_, err := f.svc.ProcessTransfer(context.Background(), req)

			assert.Equal(t, domain.ValidationFailed, domain.KindOf(err))
			assert.Len(t, f.journal.Calls(), calls, "no collaborator may be called")
		})
	}
}

func TestProcessTransfer_DirectoryUnavailable(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "100", "B": "50"})
	f.journal.Fail(inmem.OpGetAccount, errors.New("connection refused"))

	_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("10")})

	assert.Equal(t, domain.UpstreamUnavailable, domain.KindOf(err))
	assert.Empty(t, f.ledger.Entries())
}

func TestProcessTransfer_LedgerFailureLeavesBalances(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "100", "B": "50"})
	f.journal.Fail(inmem.OpAppendEntries, errors.New("ledger store down"))

	_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("10")})

	assert.Equal(t, domain.UpstreamUnavailable, domain.KindOf(err))
	assert.Zero(t, f.journal.Count(inmem.OpApplyBalance))
	assertMoney(t, "100", f.balance(t, "A"))
	assertMoney(t, "50", f.balance(t, "B"))
}

func TestProcessTransfer_SourceBalanceNotApplied(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "100", "B": "50"})
	f.journal.Fail(inmem.OpApplyBalance, errors.New("account directory down"))

	_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("30")})
	require.Error(t, err)

	assert.Equal(t, domain.PartiallyApplied, domain.KindOf(err))
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.NotNil(t, de.Partial)
	assert.False(t, de.Partial.SourceApplied)
	assert.False(t, de.Partial.DestinationApplied)
	assert.Equal(t, de.Partial.TransferID, de.Partial.Debit.TransferID)

	assert.Len(t, f.ledger.Entries(), 2, "ledger entries stay for reconciliation")
	assertMoney(t, "100", f.balance(t, "A"))
	assertMoney(t, "50", f.balance(t, "B"))
}

func TestProcessTransfer_DestinationBalanceNotApplied(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "100", "B": "50"})
	f.journal.FailAfter(inmem.OpApplyBalance, 1, errors.New("account directory down"))

	_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("30")})
	require.Error(t, err)

	assert.Equal(t, domain.PartiallyApplied, domain.KindOf(err))
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.NotNil(t, de.Partial)
	assert.True(t, de.Partial.SourceApplied)
	assert.False(t, de.Partial.DestinationApplied)
	assert.Equal(t, "B", de.Partial.Credit.AccountNumber)

	assertMoney(t, "70", f.balance(t, "A"))
	assertMoney(t, "50", f.balance(t, "B"))
}

// ctxAccounts fails balance writes on a done context, as the HTTP client does.
type ctxAccounts struct {
	*inmem.AccountDirectory
}

func (a ctxAccounts) ApplyBalance(ctx context.Context, id string, expected, balance decimal.Decimal) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	return a.AccountDirectory.ApplyBalance(ctx, id, expected, balance)
}

// hangUpLedger cancels the caller right after the entries are stored.
type hangUpLedger struct {
	*inmem.Ledger
	cancel context.CancelFunc
}

func (l hangUpLedger) AppendEntries(ctx context.Context, entries ...domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	out, err := l.Ledger.AppendEntries(ctx, entries...)
	if err == nil {
		l.cancel()
	}
	return out, err
}

func TestProcessTransfer_CallerLeavingAfterLedgerWrite(t *testing.T) {
	f := newTransferFixture(t, map[string]string{"A": "100", "B": "50"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, _ := test.NewNullLogger()
	svc := service.NewTransferService(logger,
		ctxAccounts{f.accounts},
		hangUpLedger{Ledger: f.ledger, cancel: cancel},
		lock.NewLocal(),
		service.TransferConfig{CallTimeout: time.Second},
	)

	_, err := svc.ProcessTransfer(ctx, domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("30")})
	require.NoError(t, err)

	assert.Error(t, ctx.Err())
	assert.Len(t, f.ledger.Entries(), 2)
	assertMoney(t, "70", f.balance(t, "A"))
	assertMoney(t, "80", f.balance(t, "B"))
}

type failingLocker struct{}

func (failingLocker) LockAccounts(context.Context, ...string) (func(context.Context) error, error) {
	return nil, lock.ErrNotAcquired
}

func TestProcessTransfer_LockUnavailable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	j := inmem.NewJournal()
	accounts := inmem.NewAccountDirectory(j)
	svc := service.NewTransferService(logger, accounts, inmem.NewLedger(j), failingLocker{}, service.TransferConfig{})

	_, err := svc.ProcessTransfer(context.Background(), domain.TransferRequest{Source: "A", Destination: "B", Amount: amount("1")})

	assert.Equal(t, domain.UpstreamUnavailable, domain.KindOf(err))
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.Empty(t, j.Calls())
}

func TestProcessTransfer_ConcurrentTransfersConserveMoney(t *testing.T) {
	const accountsN = 8
	balances := make(map[string]string, accountsN)
	for i := 0; i < accountsN; i++ {
		balances[fmt.Sprintf("ACC-%d", i)] = "100.00"
	}
	f := newTransferFixture(t, balances)

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			a, b := r.Intn(accountsN), r.Intn(accountsN)
			for a == b {
				b = r.Intn(accountsN)
			}
			_, err := f.svc.ProcessTransfer(context.Background(), domain.TransferRequest{
				Source:      fmt.Sprintf("ACC-%d", a),
				Destination: fmt.Sprintf("ACC-%d", b),
				Amount:      decimal.New(int64(r.Intn(2500)+1), -2),
			})
			if err != nil {
				errs <- err
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.Equal(t, domain.InsufficientFunds, domain.KindOf(err), "unexpected failure: %v", err)
	}

	total := decimal.Zero
	ledgerDelta := make(map[string]decimal.Decimal)
	for _, e := range f.ledger.Entries() {
		ledgerDelta[e.AccountNumber] = ledgerDelta[e.AccountNumber].Add(e.Signed())
	}
	for number := range balances {
		bal := f.balance(t, number)
		assert.False(t, bal.IsNegative(), "%s went negative", number)
		assertMoney(t, amount("100").Add(ledgerDelta[number]).String(), bal)
		total = total.Add(bal)
	}
	assertMoney(t, "800", total)
}
