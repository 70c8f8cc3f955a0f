// Package inmem holds in-process implementations of the collaborator
// directories. They back the dev mode of the API and the tests, and record
// every call so ordering can be asserted.
package inmem

import (
	"sync"
)

// Operation names recorded in a Journal.
const (
	OpCreateIdentity = "identity.create"
	OpDeleteIdentity = "identity.delete"
	OpCreateProfile  = "customer.create"
	OpDeleteProfile  = "customer.delete"
	OpCreateAccount  = "account.create"
	OpDeleteAccount  = "account.delete"
	OpGetAccount     = "account.get"
	OpApplyBalance   = "account.apply_balance"
	OpAppendEntries  = "ledger.append"
	OpSendCredential = "notification.send"
)

// Journal records calls in order and injects failures per operation.
type Journal struct {
	mu     sync.Mutex
	calls  []string
	faults map[string]error
	after  map[string]int
}

func NewJournal() *Journal {
	return &Journal{
		faults: make(map[string]error),
		after:  make(map[string]int),
	}
}

// Fail makes every following call of op return err.
func (j *Journal) Fail(op string, err error) {
	j.FailAfter(op, 0, err)
}

// FailAfter lets n calls of op succeed, then makes the following ones return err.
func (j *Journal) FailAfter(op string, n int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.faults[op] = err
	j.after[op] = n
}

// Heal removes the failure injected for op.
func (j *Journal) Heal(op string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.faults, op)
	delete(j.after, op)
}

// Calls returns the recorded operations in call order.
func (j *Journal) Calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.calls))
	copy(out, j.calls)
	return out
}

// Count returns how many times op was called.
func (j *Journal) Count(op string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, c := range j.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (j *Journal) enter(op string) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, op)
	err, ok := j.faults[op]
	if !ok {
		return nil
	}
	if j.after[op] > 0 {
		j.after[op]--
		return nil
	}
	return err
}
