package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/bankops/internal/domain"
)

// Ledger is an append-only in-memory ledger.
type Ledger struct {
	journal *Journal

	mu      sync.Mutex
	entries []domain.LedgerEntry
}

func NewLedger(j *Journal) *Ledger {
	return &Ledger{journal: j}
}

// AppendEntries stores the whole batch or nothing.
func (l *Ledger) AppendEntries(_ context.Context, entries ...domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	if err := l.journal.enter(OpAppendEntries); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
	out := make([]domain.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ListEntries returns the entries of one account, newest first.
func (l *Ledger) ListEntries(_ context.Context, accountNumber string, limit, offset int) ([]domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []domain.LedgerEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].AccountNumber == accountNumber {
			matched = append(matched, l.entries[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return []domain.LedgerEntry{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// LastActivity returns, per requested account, the newest entry timestamp.
func (l *Ledger) LastActivity(_ context.Context, accountNumbers []string) ([]domain.ActivitySummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.ActivitySummary, 0, len(accountNumbers))
	for _, number := range accountNumbers {
		summary := domain.ActivitySummary{AccountNumber: number}
		for _, e := range l.entries {
			if e.AccountNumber != number {
				continue
			}
			if summary.LastEntryAt == nil || e.CreatedAt.After(*summary.LastEntryAt) {
				at := e.CreatedAt
				summary.LastEntryAt = &at
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// Entries returns every stored entry in append order.
func (l *Ledger) Entries() []domain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
