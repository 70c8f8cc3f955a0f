package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/bankops/internal/domain"
)

const (
	stepCreateIdentity = "create_identity"
	stepCreateProfile  = "create_profile"
	stepCreateAccount  = "create_account"

	stepDeleteIdentity = "delete_identity"
	stepDeleteProfile  = "delete_profile"
	stepDeleteAccount  = "delete_account"

	flowClient  = "client"
	flowAccount = "account"
)

// ProvisionerConfig bounds the calls made by the saga.
type ProvisionerConfig struct {
	// StepTimeout bounds each forward collaborator call. Zero leaves it to the client.
	StepTimeout time.Duration
	// CompensationTimeout bounds each undo call.
	CompensationTimeout time.Duration
	// NotificationTimeout bounds the asynchronous credentials send.
	NotificationTimeout time.Duration
}

// Provisioner creates an identity, its customer profile and optionally a
// bank account as one unit across three directories.
type Provisioner struct {
	identities IdentityDirectory
	customers  CustomerDirectory
	accounts   AccountDirectory
	notifier   Notifier
	logger     logrus.FieldLogger
	cfg        ProvisionerConfig

	notifications sync.WaitGroup
}

// NewProvisioner wires the saga. notifier may be nil to disable credentials messages.
func NewProvisioner(
	logger logrus.FieldLogger,
	identities IdentityDirectory,
	customers CustomerDirectory,
	accounts AccountDirectory,
	notifier Notifier,
	cfg ProvisionerConfig,
) *Provisioner {
	return &Provisioner{
		identities: identities,
		customers:  customers,
		accounts:   accounts,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// Provision runs the saga. A request without Account provisions a client
// only. On failure every effect created during the attempt is compensated in
// reverse order and the error carries the original step's failure kind.
func (p *Provisioner) Provision(ctx context.Context, req domain.ProvisioningRequest) (domain.ProvisioningResult, error) {
	flow := flowClient
	if req.Account != nil {
		flow = flowAccount
	}
	logger := p.logger.WithFields(logrus.Fields{
		"saga":     flow,
		"username": req.Username,
	})

	if err := req.Validate(); err != nil {
		logger.WithError(err).Warn("provisioning request rejected")
		sagaExecutionsTotal.WithLabelValues(flow, outcomeRejected).Inc()
		return domain.ProvisioningResult{}, err
	}

	var comp Compensations

	logger.Infof("Step 1: creating identity with role %s", req.Role)
	identity, err := p.createIdentity(ctx, req)
	if err != nil {
		return p.fail(ctx, logger, flow, stepCreateIdentity, err, &comp)
	}
	comp.Push(stepDeleteIdentity, func(ctx context.Context) error {
		return p.identities.DeleteIdentity(ctx, identity.Username)
	})

	logger.Infof("Step 2: creating customer profile for identity %s", identity.ID)
	deleteProfile := func(ctx context.Context) error {
		return p.customers.DeleteProfileByIdentityID(ctx, identity.ID)
	}
	profile, err := p.createProfile(ctx, identity.ID, req)
	if err != nil {
		// A timed out or unreachable directory may still have stored the profile.
		if domain.KindOf(err) == domain.UpstreamUnavailable {
			comp.Push(stepDeleteProfile, deleteProfile)
		}
		return p.fail(ctx, logger, flow, stepCreateProfile, err, &comp)
	}
	comp.Push(stepDeleteProfile, deleteProfile)

	var account *domain.Account
	if req.Account != nil {
		logger.Infof("Step 3: creating account %s for customer %s", req.Account.Number, profile.ID)
		acc, err := p.createAccount(ctx, profile.ID, *req.Account)
		if err != nil {
			return p.fail(ctx, logger, flow, stepCreateAccount, err, &comp)
		}
		comp.Push(stepDeleteAccount, func(ctx context.Context) error {
			return p.accounts.DeleteAccount(ctx, acc.ID)
		})
		account = &acc
	}

	p.dispatchCredentials(ctx, logger, req)

	message := "Client created successfully"
	if account != nil {
		message = "Account created successfully"
	}
	sagaExecutionsTotal.WithLabelValues(flow, outcomeSucceeded).Inc()
	logger.WithField("identity_id", identity.ID).Info(message)

	return domain.ProvisioningResult{
		IdentityID: identity.ID,
		Username:   identity.Username,
		Token:      identity.Token,
		Profile:    profile,
		Account:    account,
		Message:    message,
	}, nil
}

// Wait blocks until every scheduled credentials notification has finished.
func (p *Provisioner) Wait() {
	p.notifications.Wait()
}

func (p *Provisioner) createIdentity(ctx context.Context, req domain.ProvisioningRequest) (domain.Identity, error) {
	ctx, cancel := withTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	return p.identities.CreateIdentity(ctx, domain.NewIdentity{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Role:     req.Role,
	})
}

func (p *Provisioner) createProfile(ctx context.Context, identityID string, req domain.ProvisioningRequest) (domain.Profile, error) {
	ctx, cancel := withTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	return p.customers.CreateProfile(ctx, domain.Profile{
		IdentityID:    identityID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Birthdate:     req.Birthdate,
		PostalAddress: req.PostalAddress,
		IdentityRef:   req.IdentityRef,
	})
}

func (p *Provisioner) createAccount(ctx context.Context, customerID string, opening domain.AccountOpening) (domain.Account, error) {
	ctx, cancel := withTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	return p.accounts.CreateAccount(ctx, domain.NewAccount{
		Number:        opening.Number,
		OpeningAmount: opening.OpeningAmount,
		CustomerID:    customerID,
	})
}

func (p *Provisioner) fail(
	ctx context.Context,
	logger logrus.FieldLogger,
	flow, step string,
	cause error,
	comp *Compensations,
) (domain.ProvisioningResult, error) {
	failure := sagaFailure(step, cause)
	logger = logger.WithField("step", step)

	if comp.Len() == 0 {
		logger.WithError(cause).Warn("provisioning failed before any mutation")
		sagaExecutionsTotal.WithLabelValues(flow, outcomeRejected).Inc()
		return domain.ProvisioningResult{}, failure
	}

	logger.WithError(cause).Error("provisioning step failed, rolling back")

	// Unwinding must finish even when the caller has gone away.
	outcomes := comp.Unwind(context.WithoutCancel(ctx), p.cfg.CompensationTimeout)
	for _, o := range outcomes {
		entry := logger.WithField("compensation", o.Step)
		if o.Succeeded() {
			sagaCompensationsTotal.WithLabelValues(o.Step, outcomeSucceeded).Inc()
			entry.Info("compensation applied")
			continue
		}
		sagaCompensationsTotal.WithLabelValues(o.Step, outcomeFailed).Inc()
		entry.WithError(o.Err).Error("compensation failed, manual cleanup required")
	}
	failure.Compensations = outcomes

	logger.WithFields(logrus.Fields{
		"kind":          failure.Kind,
		"compensations": domain.SummarizeCompensations(outcomes),
	}).Warn("provisioning rolled back")
	sagaExecutionsTotal.WithLabelValues(flow, outcomeCompensated).Inc()

	return domain.ProvisioningResult{}, failure
}

// dispatchCredentials schedules the welcome message. Its outcome is logged
// and never reaches the caller.
func (p *Provisioner) dispatchCredentials(ctx context.Context, logger logrus.FieldLogger, req domain.ProvisioningRequest) {
	if p.notifier == nil {
		return
	}
	creds := domain.Credentials{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	token := req.CallerToken
	logger = logger.WithField("email", req.Email)
	logger.Info("scheduling credentials notification")

	p.notifications.Add(1)
	go func() {
		defer p.notifications.Done()
		defer func() {
			if r := recover(); r != nil {
				notificationsTotal.WithLabelValues(outcomeFailed).Inc()
				logger.Errorf("credentials notification panicked: %v", r)
			}
		}()

		nctx, cancel := withTimeout(context.WithoutCancel(ctx), p.cfg.NotificationTimeout)
		defer cancel()

		if err := p.notifier.SendCredentials(nctx, creds, token); err != nil {
			notificationsTotal.WithLabelValues(outcomeFailed).Inc()
			logger.WithError(err).Warn("credentials notification failed")
			return
		}
		notificationsTotal.WithLabelValues(outcomeSucceeded).Inc()
		logger.Info("credentials notification sent")
	}()
}
