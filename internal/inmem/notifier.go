package inmem

import (
	"context"
	"sync"

	"github.com/punchamoorthee/bankops/internal/domain"
)

// SentCredentials is one delivered notification.
type SentCredentials struct {
	Credentials domain.Credentials
	AuthToken   string
}

// Notifier keeps delivered credentials messages in memory.
type Notifier struct {
	journal *Journal

	mu   sync.Mutex
	sent []SentCredentials
}

func NewNotifier(j *Journal) *Notifier {
	return &Notifier{journal: j}
}

func (n *Notifier) SendCredentials(_ context.Context, creds domain.Credentials, authToken string) error {
	if err := n.journal.enter(OpSendCredential); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, SentCredentials{Credentials: creds, AuthToken: authToken})
	return nil
}

func (n *Notifier) Sent() []SentCredentials {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SentCredentials, len(n.sent))
	copy(out, n.sent)
	return out
}
