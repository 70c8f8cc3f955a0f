package clients

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/quintans/faults"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/models"
)

// HTTPNotifier posts credentials to the notification service, forwarding
// the caller's bearer token.
type HTTPNotifier struct {
	rest *restClient
}

func NewHTTPNotifier(cfg Config, logger logrus.FieldLogger) *HTTPNotifier {
	return &HTTPNotifier{rest: newRestClient("notification", cfg, logger)}
}

func (n *HTTPNotifier) SendCredentials(ctx context.Context, creds domain.Credentials, authToken string) error {
	var out models.SendCredentialsResponse
	err := n.rest.call(ctx, http.MethodPost, "/api/notifications/send-credentials", bearer(authToken), toCredentialsRequest(creds), &out)
	if err != nil {
		return err
	}
	if !out.Success {
		return domain.Errorf(domain.UpstreamUnavailable, "notification service refused credentials: %s", out.Message)
	}
	return nil
}

// NATSNotifier publishes credentials messages on a subject. The caller's
// token travels in the Authorization header of the message.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

func NewNATSNotifier(conn *nats.Conn, subject string) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject}
}

func (n *NATSNotifier) SendCredentials(ctx context.Context, creds domain.Credentials, authToken string) error {
	payload, err := json.Marshal(toCredentialsRequest(creds))
	if err != nil {
		return faults.Wrap(err)
	}
	msg := nats.NewMsg(n.subject)
	msg.Data = payload
	if authToken != "" {
		msg.Header.Set("Authorization", "Bearer "+authToken)
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		return domain.NewError(domain.UpstreamUnavailable, "publishing credentials on "+n.subject, err)
	}
	// Flush so the message has reached the server before reporting success.
	flush := n.conn.Flush
	if _, ok := ctx.Deadline(); ok {
		flush = func() error { return n.conn.FlushWithContext(ctx) }
	}
	if err := flush(); err != nil {
		return domain.NewError(domain.UpstreamUnavailable, "flushing credentials on "+n.subject, err)
	}
	return nil
}

func toCredentialsRequest(c domain.Credentials) models.SendCredentialsRequest {
	return models.SendCredentialsRequest{
		Email:     c.Email,
		Username:  c.Username,
		Password:  c.Password,
		FirstName: c.FirstName,
		LastName:  c.LastName,
	}
}
