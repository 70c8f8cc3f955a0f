package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/models"
	"github.com/punchamoorthee/bankops/internal/service"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 500
)

type Provisioner interface {
	Provision(ctx context.Context, req domain.ProvisioningRequest) (domain.ProvisioningResult, error)
}

type Transfers interface {
	ProcessTransfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error)
}

// IdempotencyStore remembers the outcome of transfer requests sent with an
// Idempotency-Key header.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, requestHash string) (*models.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, status int, body []byte) error
	Release(ctx context.Context, key string) error
}

type Handler struct {
	provisioner Provisioner
	transfers   Transfers
	history     service.LedgerHistory
	keys        IdempotencyStore
	logger      logrus.FieldLogger
}

func NewHandler(
	logger logrus.FieldLogger,
	provisioner Provisioner,
	transfers Transfers,
	history service.LedgerHistory,
	keys IdempotencyStore,
) *Handler {
	return &Handler{
		provisioner: provisioner,
		transfers:   transfers,
		history:     history,
		keys:        keys,
		logger:      logger,
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateClientHandler provisions an identity and its customer profile.
func (h *Handler) CreateClientHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, domain.ValidationFailed, "Malformed JSON body")
		return
	}
	in, err := toProvisioningRequest(req, r)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.provision(w, r, in)
}

// CreateAccountHandler provisions an identity, its profile and a bank account.
func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, domain.ValidationFailed, "Malformed JSON body")
		return
	}
	in, err := toProvisioningRequest(req, r)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	if in.Role == "" {
		in.Role = domain.DefaultRole
	}
	in.Account = &domain.AccountOpening{Number: req.AccountNumber, OpeningAmount: decimal.Zero}
	if req.InitialAmount != nil {
		in.Account.OpeningAmount = *req.InitialAmount
	}
	h.provision(w, r, in)
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request, in domain.ProvisioningRequest) {
	result, err := h.provisioner.Provision(r.Context(), in)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

// CreateTransferHandler runs a transfer. With an Idempotency-Key header the
// response is stored and replayed for retries carrying the same payload.
func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, domain.UpstreamUnavailable, "Stream read error")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req models.TransferRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, domain.ValidationFailed, "Malformed JSON body")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	settled := false
	if idempotencyKey != "" {
		hash := sha256.Sum256(bodyBytes)
		existing, err := h.keys.Reserve(r.Context(), idempotencyKey, hex.EncodeToString(hash[:]))
		switch {
		case errors.Is(err, domain.ErrIdempotencyConflict):
			respondWithError(w, http.StatusConflict, domain.Conflict, "Request processing in progress")
			return
		case errors.Is(err, domain.ErrIdempotencyMismatch):
			respondWithError(w, http.StatusUnprocessableEntity, domain.ValidationFailed, "Key reuse with mismatched payload")
			return
		case err != nil:
			h.logger.WithError(err).Error("reserving idempotency key")
			respondWithError(w, http.StatusServiceUnavailable, domain.UpstreamUnavailable, "Idempotency store unavailable")
			return
		case existing != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(existing.ResponseStatus)
			w.Write(existing.ResponseBody)
			return
		}
		// Frees the key if the transfer never reports back, e.g. on panic.
		defer func() {
			if !settled {
				h.releaseKey(r.Context(), idempotencyKey)
			}
		}()
	}

	result, err := h.transfers.ProcessTransfer(r.Context(), domain.TransferRequest{
		Source:      req.SourceAccount,
		Destination: req.DestinationAccount,
		Amount:      req.Amount,
		Reason:      req.Reason,
	})

	status, payload := http.StatusCreated, any(result)
	if err != nil {
		status, payload = errorResponse(err)
	}
	body, _ := json.Marshal(payload)

	if idempotencyKey != "" {
		h.settleKey(r.Context(), idempotencyKey, err, status, body)
		settled = true
	}
	if err == nil {
		w.Header().Set("Location", "/api/v1/transfers/"+result.TransferID.String())
	}
	respondWithRaw(w, status, body)
}

// settleKey stores the response of a transfer that left ledger records, and
// frees the key of one that was rejected so the client may retry.
func (h *Handler) settleKey(ctx context.Context, key string, err error, status int, body []byte) {
	if err != nil && domain.KindOf(err) != domain.PartiallyApplied {
		h.releaseKey(ctx, key)
		return
	}
	if cerr := h.keys.Complete(context.WithoutCancel(ctx), key, status, body); cerr != nil {
		h.logger.WithError(cerr).WithField("idempotency_key", key).Error("storing idempotent response")
	}
}

func (h *Handler) releaseKey(ctx context.Context, key string) {
	if err := h.keys.Release(context.WithoutCancel(ctx), key); err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Warn("releasing idempotency key")
	}
}

// GetAccountEntriesHandler lists the ledger entries of an account, newest first.
func (h *Handler) GetAccountEntriesHandler(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]

	limit, err := queryInt(r, "limit", defaultEntriesLimit)
	if err != nil || limit <= 0 || limit > maxEntriesLimit {
		respondWithError(w, http.StatusBadRequest, domain.ValidationFailed, "limit must be between 1 and 500")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respondWithError(w, http.StatusBadRequest, domain.ValidationFailed, "offset must not be negative")
		return
	}

	entries, err := h.history.ListEntries(r.Context(), number, limit, offset)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// LastActivityHandler reports the newest ledger entry date of each account.
func (h *Handler) LastActivityHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LastActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, domain.ValidationFailed, "Malformed JSON body")
		return
	}
	if len(req.AccountNumbers) == 0 {
		respondWithError(w, http.StatusUnprocessableEntity, domain.ValidationFailed, "account_numbers is required")
		return
	}

	activity, err := h.history.LastActivity(r.Context(), req.AccountNumbers)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, activity)
}

func toProvisioningRequest(req models.ProvisionRequest, r *http.Request) (domain.ProvisioningRequest, error) {
	in := domain.ProvisioningRequest{
		Username:      req.Username,
		Password:      req.Password,
		Email:         req.Email,
		Role:          req.Role,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		PostalAddress: req.PostalAddress,
		IdentityRef:   req.IdentityRef,
		CallerToken:   bearerToken(r),
	}
	if req.Birthdate != "" {
		birthdate, err := time.Parse(models.DateLayout, req.Birthdate)
		if err != nil {
			return in, domain.Errorf(domain.ValidationFailed, "birthdate %q must use YYYY-MM-DD", req.Birthdate)
		}
		in.Birthdate = birthdate
	}
	return in, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.ValidationFailed, domain.AccountBlocked, domain.InsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.DuplicateEntity, domain.Conflict:
		return http.StatusConflict
	case domain.NotFound:
		return http.StatusNotFound
	case domain.PartiallyApplied:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

func errorResponse(err error) (int, models.ErrorResponse) {
	kind := domain.KindOf(err)
	detail := models.ErrorDetail{Kind: string(kind), Message: err.Error()}

	var de *domain.Error
	if errors.As(err, &de) {
		detail.Message = de.Message
		if de.Partial != nil {
			detail.Partial = de.Partial
		}
	}
	return statusFor(kind), models.ErrorResponse{Error: detail}
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, err error) {
	status, payload := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("status", status).Error("request failed")
	}
	respondWithJSON(w, status, payload)
}

func respondWithError(w http.ResponseWriter, code int, kind domain.Kind, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: models.ErrorDetail{Kind: string(kind), Message: message}})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondWithRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}
