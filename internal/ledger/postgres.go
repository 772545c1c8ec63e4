package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const checkViolation = "23514"

// PostgresStore persists ledger postings in PostgreSQL. Balances are a
// projection on ledger_accounts updated in the same transaction that appends
// ledger_entries, guarded by CHECK constraints on non-system accounts.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresLedger builds a Ledger over Postgres.
func NewPostgresLedger(db *pgxpool.Pool) *Ledger {
	return New(NewPostgresStore(db))
}

// EnsureAccount guarantees an account exists for the provided code.
func (s *PostgresStore) EnsureAccount(ctx context.Context, code string, system bool) error {
	_, err := s.db.Exec(ctx, `INSERT INTO ledger_accounts (id, code, system) VALUES ($1, $2, $3)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code, system)
	return err
}

// Balance returns the projected balances for the specified account code.
func (s *PostgresStore) Balance(ctx context.Context, code string) (Balance, error) {
	const query = `
        SELECT available, escrow, payout, updated_at
        FROM ledger_accounts
        WHERE code = $1`
	bal := Balance{Account: code}
	if err := s.db.QueryRow(ctx, query, code).Scan(&bal.Available, &bal.Escrow, &bal.Payout, &bal.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return Balance{}, err
	}
	return bal, nil
}

// Post applies a balanced transaction atomically.
func (s *PostgresStore) Post(ctx context.Context, t Transaction) (Result, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	txID := uuid.New()
	var postedAt time.Time
	err = tx.QueryRow(ctx, `
        INSERT INTO ledger_transactions (id, reason, reference, source_account, destination_account, amount)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (reason, reference) DO NOTHING
        RETURNING created_at`,
		txID, t.Reason, t.Reference, t.Source, t.Destination, t.Amount).Scan(&postedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var existingID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id, created_at FROM ledger_transactions WHERE reason = $1 AND reference = $2`,
			t.Reason, t.Reference).Scan(&existingID, &postedAt); err != nil {
			return Result{}, err
		}
		return Result{TransactionID: existingID.String(), PostedAt: postedAt}, ErrDuplicateTransaction
	}
	if err != nil {
		return Result{}, err
	}

	ids, err := lockAccounts(ctx, tx, t.Legs)
	if err != nil {
		return Result{}, err
	}

	for _, leg := range t.Legs {
		column, err := bucketColumn(leg.Bucket)
		if err != nil {
			return Result{}, err
		}
		// column comes from a closed set, never from input.
		query := fmt.Sprintf(`UPDATE ledger_accounts SET %[1]s = %[1]s + $1, updated_at = NOW()
            WHERE id = $2 AND (system OR %[1]s + $1 >= 0)`, column)
		cmd, err := tx.Exec(ctx, query, leg.Amount, ids[leg.Account])
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
				return Result{}, ErrInsufficientFunds
			}
			return Result{}, err
		}
		if cmd.RowsAffected() == 0 {
			return Result{}, ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, transaction_id, account_id, bucket, amount)
            VALUES ($1, $2, $3, $4, $5)`, uuid.New(), txID, ids[leg.Account], string(leg.Bucket), leg.Amount); err != nil {
			return Result{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{TransactionID: txID.String(), PostedAt: postedAt}, nil
}

// Entries lists recent entries for code, newest first.
func (s *PostgresStore) Entries(ctx context.Context, code string, limit int) ([]Entry, error) {
	const query = `
        SELECT e.id, e.transaction_id, a.code, e.bucket, e.amount, t.reason, t.reference,
               t.source_account, t.destination_account, e.created_at
        FROM ledger_entries e
        INNER JOIN ledger_accounts a ON a.id = e.account_id
        INNER JOIN ledger_transactions t ON t.id = e.transaction_id
        WHERE a.code = $1
        ORDER BY e.created_at DESC
        LIMIT $2`
	rows, err := s.db.Query(ctx, query, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			id     uuid.UUID
			txID   uuid.UUID
			bucket string
		)
		if err := rows.Scan(&id, &txID, &e.Account, &bucket, &e.Amount, &e.Reason, &e.Reference,
			&e.Source, &e.Destination, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.TransactionID = txID.String()
		e.Bucket = Bucket(bucket)
		out = append(out, e)
	}
	return out, rows.Err()
}

// lockAccounts takes row locks on every account touched by the legs in code
// order so concurrent postings over the same pair cannot deadlock.
func lockAccounts(ctx context.Context, tx pgx.Tx, legs []Leg) (map[string]uuid.UUID, error) {
	seen := make(map[string]struct{}, len(legs))
	codes := make([]string, 0, len(legs))
	for _, leg := range legs {
		if _, ok := seen[leg.Account]; ok {
			continue
		}
		seen[leg.Account] = struct{}{}
		codes = append(codes, leg.Account)
	}
	sort.Strings(codes)

	ids := make(map[string]uuid.UUID, len(codes))
	const query = `SELECT id FROM ledger_accounts WHERE code = $1 FOR UPDATE`
	for _, code := range codes {
		var id uuid.UUID
		if err := tx.QueryRow(ctx, query, code).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
			}
			return nil, err
		}
		ids[code] = id
	}
	return ids, nil
}

func bucketColumn(b Bucket) (string, error) {
	switch b {
	case BucketAvailable:
		return "available", nil
	case BucketEscrow:
		return "escrow", nil
	case BucketPayout:
		return "payout", nil
	default:
		return "", fmt.Errorf("%w: unknown bucket %q", ErrInvalidPosting, b)
	}
}
