package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/bankops/internal/domain"
)

// TransferConfig bounds the calls made by the transfer engine.
type TransferConfig struct {
	// CallTimeout bounds each Account Directory and Ledger Store call.
	CallTimeout time.Duration
}

// TransferService moves funds between two accounts owned by the Account
// Directory and records a balanced pair of ledger entries.
type TransferService struct {
	accounts AccountDirectory
	ledger   LedgerStore
	locker   Locker
	logger   logrus.FieldLogger
	cfg      TransferConfig

	now   func() time.Time
	newID func() uuid.UUID
}

func NewTransferService(
	logger logrus.FieldLogger,
	accounts AccountDirectory,
	ledger LedgerStore,
	locker Locker,
	cfg TransferConfig,
) *TransferService {
	return &TransferService{
		accounts: accounts,
		ledger:   ledger,
		locker:   locker,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.New,
	}
}

// ProcessTransfer validates both accounts, writes the debit and credit
// entries, then applies the source balance followed by the destination
// balance. Failures before the ledger write leave no side effects. Failures
// after it are reported as domain.PartiallyApplied with the sides that were
// confirmed.
func (s *TransferService) ProcessTransfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	start := time.Now()
	logger := s.logger.WithFields(logrus.Fields{
		"source":      req.Source,
		"destination": req.Destination,
		"amount":      req.Amount.StringFixed(domain.MoneyScale),
	})

	state := domain.StateValidating
	result, err := s.process(ctx, logger, req, &state)
	transferDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := domain.KindOf(err)
		transfersTotal.WithLabelValues(string(state), string(kind)).Inc()
		if state == domain.StatePartiallyApplied {
			logger.WithError(err).Error("transfer partially applied, reconciliation required")
		} else {
			logger.WithError(err).Warn("transfer rejected")
		}
		return domain.TransferResult{}, err
	}

	transfersTotal.WithLabelValues(string(state), "").Inc()
	logger.WithFields(logrus.Fields{
		"transfer_id":             result.TransferID,
		"new_source_balance":      result.NewSourceBalance.StringFixed(domain.MoneyScale),
		"new_destination_balance": result.NewDestinationBalance.StringFixed(domain.MoneyScale),
	}).Info("transfer completed")
	return result, nil
}

func (s *TransferService) process(
	ctx context.Context,
	logger logrus.FieldLogger,
	req domain.TransferRequest,
	state *domain.TransferState,
) (domain.TransferResult, error) {
	if err := req.Validate(); err != nil {
		*state = domain.StateRejected
		return domain.TransferResult{}, err
	}

	// Locks are taken in a fixed order by the locker so two transfers over the
	// same pair of accounts cannot deadlock.
	unlock, err := s.locker.LockAccounts(ctx, req.Source, req.Destination)
	if err != nil {
		*state = domain.StateRejected
		return domain.TransferResult{}, domain.NewError(domain.UpstreamUnavailable, "locking accounts", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("releasing account locks")
		}
	}()

	source, err := s.getAccount(ctx, req.Source)
	if err != nil {
		*state = domain.StateRejected
		return domain.TransferResult{}, directoryFailure("source account "+req.Source, err)
	}
	if !source.Status.AllowsTransfers() {
		*state = domain.StateRejected
		return domain.TransferResult{}, domain.Errorf(domain.AccountBlocked, "source account %s is %s", source.Number, source.Status)
	}
	if source.Balance.LessThan(req.Amount) {
		*state = domain.StateRejected
		return domain.TransferResult{}, domain.Errorf(domain.InsufficientFunds,
			"balance %s is lower than requested amount %s",
			source.Balance.StringFixed(domain.MoneyScale), req.Amount.StringFixed(domain.MoneyScale))
	}
	*state = domain.StateSourceChecked

	destination, err := s.getAccount(ctx, req.Destination)
	if err != nil {
		*state = domain.StateRejected
		return domain.TransferResult{}, directoryFailure("destination account "+req.Destination, err)
	}
	if !destination.Status.AllowsTransfers() {
		*state = domain.StateRejected
		return domain.TransferResult{}, domain.Errorf(domain.AccountBlocked, "destination account %s is %s", destination.Number, destination.Status)
	}
	*state = domain.StateDestinationChecked

	newSourceBalance := source.Balance.Sub(req.Amount)
	newDestinationBalance := destination.Balance.Add(req.Amount)

	transferID := s.newID()
	now := s.now().UTC()
	debit := domain.LedgerEntry{
		ID:            s.newID(),
		TransferID:    transferID,
		AccountNumber: source.Number,
		Direction:     domain.Debit,
		Amount:        req.Amount,
		Description:   "Transfer to " + destination.Number,
		Counterparty:  destination.Number,
		Reason:        req.Reason,
		CreatedAt:     now,
	}
	credit := domain.LedgerEntry{
		ID:            s.newID(),
		TransferID:    transferID,
		AccountNumber: destination.Number,
		Direction:     domain.Credit,
		Amount:        req.Amount,
		Description:   "Transfer from " + source.Number,
		Counterparty:  source.Number,
		Reason:        req.Reason,
		CreatedAt:     now,
	}

	if err := s.appendEntries(ctx, debit, credit); err != nil {
		*state = domain.StateRejected
		return domain.TransferResult{}, domain.NewError(domain.UpstreamUnavailable, "recording ledger entries", err)
	}
	*state = domain.StateLedgerWritten
	logger.WithField("transfer_id", transferID).Info("ledger entries recorded")

	partial := &domain.PartialApplication{
		TransferID: transferID,
		Debit:      debit,
		Credit:     credit,
	}

	// Once the ledger holds the pair, the balances follow it even if the
	// caller goes away. Each call keeps its own timeout.
	applyCtx := context.WithoutCancel(ctx)

	if err := s.applyBalance(applyCtx, source, newSourceBalance); err != nil {
		*state = domain.StatePartiallyApplied
		return domain.TransferResult{}, partialFailure("source balance was not applied", partial, err)
	}
	partial.SourceApplied = true
	*state = domain.StateSourceBalanceApplied

	if err := s.applyBalance(applyCtx, destination, newDestinationBalance); err != nil {
		*state = domain.StatePartiallyApplied
		return domain.TransferResult{}, partialFailure("source debited but destination balance was not applied", partial, err)
	}
	partial.DestinationApplied = true
	*state = domain.StateDestinationBalanceApplied

	return domain.TransferResult{
		TransferID:            transferID,
		Debit:                 debit,
		Credit:                credit,
		NewSourceBalance:      newSourceBalance,
		NewDestinationBalance: newDestinationBalance,
	}, nil
}

func (s *TransferService) getAccount(ctx context.Context, number string) (domain.Account, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.accounts.GetAccountByNumber(ctx, number)
}

func (s *TransferService) appendEntries(ctx context.Context, entries ...domain.LedgerEntry) error {
	ctx, cancel := withTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	_, err := s.ledger.AppendEntries(ctx, entries...)
	return err
}

func (s *TransferService) applyBalance(ctx context.Context, acc domain.Account, balance decimal.Decimal) error {
	ctx, cancel := withTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	_, err := s.accounts.ApplyBalance(ctx, acc.ID, acc.Balance, balance)
	return err
}

func partialFailure(message string, partial *domain.PartialApplication, cause error) *domain.Error {
	failure := domain.NewError(domain.PartiallyApplied, message, cause)
	failure.Partial = partial
	return failure
}
