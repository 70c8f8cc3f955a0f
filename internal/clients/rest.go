// Package clients talks to the Identity, Customer and Account directories
// and to the notification service over HTTP, and publishes credentials
// messages over NATS.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/models"
)

// Config describes one collaborator endpoint.
type Config struct {
	BaseURL string
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// ReadRetries is the number of extra attempts made for idempotent reads.
	ReadRetries uint64
	// BreakerFailures consecutive failures open the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

// StatusError is a non-2xx answer from a collaborator.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

type restClient struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	retries uint64
	logger  logrus.FieldLogger
}

func newRestClient(name string, cfg Config, logger logrus.FieldLogger) *restClient {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	logger = logger.WithField("collaborator", name)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A 4xx is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})

	return &restClient{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		retries: cfg.ReadRetries,
		logger:  logger,
	}
}

// call performs one request through the breaker. Reads are retried with
// exponential backoff on transport failures and 5xx answers; writes never are.
func (c *restClient) call(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return domain.NewError(domain.ValidationFailed, "encoding "+c.name+" request", err)
		}
	}

	attempt := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, method, path, header, body, out)
		})
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if method == http.MethodGet && c.retries > 0 {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 50 * time.Millisecond
		policy.MaxInterval = time.Second
		err = backoff.RetryNotify(attempt,
			backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx),
			func(err error, wait time.Duration) {
				c.logger.WithError(err).WithField("wait", wait).Debug("retrying read")
			})
	} else {
		err = attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if err == nil {
		return nil
	}
	return c.classify(method, path, err)
}

func (c *restClient) roundTrip(ctx context.Context, method, path string, header http.Header, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: remoteMessage(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", c.name, err)
		}
	}
	return nil
}

func (c *restClient) classify(method, path string, err error) error {
	what := fmt.Sprintf("%s %s %s", c.name, method, path)

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusNotFound:
			return domain.NewError(domain.NotFound, what, se)
		case se.Code == http.StatusConflict:
			return domain.NewError(domain.DuplicateEntity, what, se)
		case se.Code == http.StatusBadRequest, se.Code == http.StatusUnprocessableEntity:
			return domain.NewError(domain.ValidationFailed, what, se)
		}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewError(domain.UpstreamUnavailable, what+": circuit open", err)
	}
	return domain.NewError(domain.UpstreamUnavailable, what, err)
}

func remoteMessage(raw []byte) string {
	var re models.RemoteError
	if err := json.Unmarshal(raw, &re); err == nil {
		if re.Message != "" {
			return re.Message
		}
		if re.Error != "" {
			return re.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func bearer(token string) http.Header {
	if token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
