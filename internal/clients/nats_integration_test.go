//go:build integration

package clients

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/models"
)

func TestNATSNotifier_PublishesCredentials(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)

	nc, err := nats.Connect(endpoint)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync("notifications.credentials")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	notifier := NewNATSNotifier(nc, "notifications.credentials")
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = notifier.SendCredentials(sendCtx, domain.Credentials{
		Email: "alice@example.com", Username: "alice", Password: "s3cret", FirstName: "Alice", LastName: "Martin",
	}, "caller-jwt")
	require.NoError(t, err)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Bearer caller-jwt", msg.Header.Get("Authorization"))

	var got models.SendCredentialsRequest
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice@example.com", got.Email)
}
