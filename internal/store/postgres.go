package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quintans/faults"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/domain"
)

const uniqueViolation = "23505"

// Store is the Postgres ledger. It only ever inserts entries; balances are
// owned by the Account Directory.
type Store struct {
	Db *pgxpool.Pool

	// KeyTTL is how long an idempotency key may stay in progress before a
	// retry with the same payload reclaims it. Zero never reclaims.
	KeyTTL time.Duration
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// AppendEntries inserts the batch in one statement so either every entry is
// recorded or none is.
func (s *Store) AppendEntries(ctx context.Context, entries ...domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO ledger_entries
		(id, transfer_id, account_number, direction, amount, description, counterparty, reason, created_at)
		VALUES `)
	args := make([]any, 0, len(entries)*9)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d::numeric, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9)
		args = append(args,
			e.ID, e.TransferID, e.AccountNumber, string(e.Direction),
			e.Amount.StringFixed(domain.MoneyScale),
			e.Description, e.Counterparty, e.Reason, e.CreatedAt,
		)
	}

	if _, err := s.Db.Exec(ctx, sb.String(), args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.NewError(domain.DuplicateEntity, "ledger entry already recorded", err)
		}
		return nil, faults.Wrapf(err, "inserting %d ledger entries", len(entries))
	}

	out := make([]domain.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ListEntries retrieves ledger entries for a specific account, newest first.
func (s *Store) ListEntries(ctx context.Context, accountNumber string, limit, offset int) ([]domain.LedgerEntry, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, transfer_id, account_number, direction, amount::text,
			description, counterparty, reason, created_at
		FROM ledger_entries
		WHERE account_number = $1
		ORDER BY created_at DESC, direction
		LIMIT $2 OFFSET $3`,
		accountNumber, limit, offset)
	if err != nil {
		return nil, faults.Wrapf(err, "querying entries of %s", accountNumber)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var (
			entry     domain.LedgerEntry
			direction string
			amount    string
		)
		if err := rows.Scan(&entry.ID, &entry.TransferID, &entry.AccountNumber, &direction, &amount,
			&entry.Description, &entry.Counterparty, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, faults.Wrap(err)
		}
		entry.Direction = domain.Direction(direction)
		if entry.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, faults.Wrapf(err, "parsing amount of entry %s", entry.ID)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(err)
	}
	return entries, nil
}

// LastActivity returns, in request order, the newest entry timestamp of each account.
func (s *Store) LastActivity(ctx context.Context, accountNumbers []string) ([]domain.ActivitySummary, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT account_number, MAX(created_at)
		FROM ledger_entries
		WHERE account_number = ANY($1)
		GROUP BY account_number`,
		accountNumbers)
	if err != nil {
		return nil, faults.Wrap(err)
	}

	latest, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ActivitySummary, error) {
		var a domain.ActivitySummary
		err := row.Scan(&a.AccountNumber, &a.LastEntryAt)
		return a, err
	})
	if err != nil {
		return nil, faults.Wrap(err)
	}

	byNumber := make(map[string]domain.ActivitySummary, len(latest))
	for _, a := range latest {
		if a.LastEntryAt != nil {
			t := a.LastEntryAt.UTC()
			a.LastEntryAt = &t
		}
		byNumber[a.AccountNumber] = a
	}
	out := make([]domain.ActivitySummary, 0, len(accountNumbers))
	for _, n := range accountNumbers {
		if a, ok := byNumber[n]; ok {
			out = append(out, a)
			continue
		}
		out = append(out, domain.ActivitySummary{AccountNumber: n})
	}
	return out, nil
}
