package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const activeCodeIndex = "escrow_records_active_code_idx"

// PostgresStore keeps records in escrow_records. Code uniqueness among
// active records is enforced by a partial unique index.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, sender_id, sender_account, claimant_id, claimant_account, claimant_contact,
    amount, currency, code, venue_hint, venue_only, message, anonymous, status, created_at, expires_at,
    redeemed_at, redeemed_by, redeem_venue_id, redeem_account, redeem_token, commission,
    resolved_at, settled_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r          Record
		id         uuid.UUID
		senderID   uuid.UUID
		claimantID uuid.UUID
		status     string
	)
	err := row.Scan(&id, &senderID, &r.SenderAccount, &claimantID, &r.ClaimantAccount, &r.ClaimantContact,
		&r.Amount, &r.Currency, &r.Code, &r.VenueHint, &r.VenueOnly, &r.Message, &r.Anonymous, &status,
		&r.CreatedAt, &r.ExpiresAt, &r.RedeemedAt, &r.RedeemedBy, &r.RedeemVenueID, &r.RedeemAccount,
		&r.RedeemToken, &r.Commission, &r.ResolvedAt, &r.SettledAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	r.ID = id.String()
	r.SenderID = senderID.String()
	r.ClaimantID = claimantID.String()
	r.Status = Status(status)
	return r, nil
}

func collect(rows pgx.Rows, err error) ([]Record, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, r Record) error {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return err
	}
	senderID, err := uuid.Parse(r.SenderID)
	if err != nil {
		return err
	}
	claimantID, err := uuid.Parse(r.ClaimantID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO escrow_records (id, sender_id, sender_account, claimant_id, claimant_account, claimant_contact,
            amount, currency, code, venue_hint, venue_only, message, anonymous, status, created_at, expires_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $15)`,
		id, senderID, r.SenderAccount, claimantID, r.ClaimantAccount, r.ClaimantContact,
		r.Amount, r.Currency, r.Code, r.VenueHint, r.VenueOnly, r.Message, r.Anonymous, string(r.Status),
		r.CreatedAt.UTC(), r.ExpiresAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeCodeIndex {
		return ErrCodeInUse
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return Record{}, ErrNotFound
	}
	return scanRecord(s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM escrow_records WHERE id = $1`, recordID))
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (Record, error) {
	return scanRecord(s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM escrow_records
        WHERE code = $1
        ORDER BY (status = 'active') DESC, created_at DESC
        LIMIT 1`, code))
}

// Transition runs a single conditional UPDATE; RowsAffected decides the
// winner among concurrent callers.
func (s *PostgresStore) Transition(ctx context.Context, id string, t Transition) (Record, bool, error) {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return Record{}, false, ErrNotFound
	}
	if !CanTransition(t.From, t.To) {
		r, err := s.Get(ctx, id)
		return r, false, err
	}

	var row pgx.Row
	if t.To == StatusRedeemed {
		row = s.db.QueryRow(ctx, `
            UPDATE escrow_records
            SET status = $3, resolved_at = $4, updated_at = $4, redeemed_at = $4,
                redeemed_by = $5, redeem_venue_id = $6, redeem_account = $7, redeem_token = $8, commission = $9
            WHERE id = $1 AND status = $2
            RETURNING `+recordColumns,
			recordID, string(t.From), string(t.To), t.At.UTC(), t.RedeemedBy, t.VenueID, t.Account, t.Token, t.Commission)
	} else {
		row = s.db.QueryRow(ctx, `
            UPDATE escrow_records
            SET status = $3, resolved_at = $4, updated_at = $4
            WHERE id = $1 AND status = $2
            RETURNING `+recordColumns,
			recordID, string(t.From), string(t.To), t.At.UTC())
	}

	r, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		current, err := s.Get(ctx, id)
		return current, false, err
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func (s *PostgresStore) MarkSettled(ctx context.Context, id string, at time.Time) error {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	_, err = s.db.Exec(ctx, `UPDATE escrow_records SET settled_at = $2, updated_at = $2
        WHERE id = $1 AND settled_at IS NULL`, recordID, at.UTC())
	return err
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]Record, error) {
	return collect(s.db.Query(ctx, `SELECT `+recordColumns+` FROM escrow_records
        WHERE status = 'active' AND expires_at < $1
        ORDER BY expires_at
        LIMIT $2`, before.UTC(), limit))
}

func (s *PostgresStore) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]Record, error) {
	return collect(s.db.Query(ctx, `SELECT `+recordColumns+` FROM escrow_records
        WHERE status <> 'active' AND settled_at IS NULL AND updated_at < $1
        ORDER BY updated_at
        LIMIT $2`, before.UTC(), limit))
}

func (s *PostgresStore) ListBySender(ctx context.Context, senderID string, limit int) ([]Record, error) {
	id, err := uuid.Parse(senderID)
	if err != nil {
		return nil, nil
	}
	return collect(s.db.Query(ctx, `SELECT `+recordColumns+` FROM escrow_records
        WHERE sender_id = $1
        ORDER BY created_at DESC
        LIMIT $2`, id, limit))
}

func (s *PostgresStore) ListByClaimants(ctx context.Context, claimantIDs []string, limit int) ([]Record, error) {
	ids := make([]uuid.UUID, 0, len(claimantIDs))
	for _, raw := range claimantIDs {
		if id, err := uuid.Parse(raw); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return collect(s.db.Query(ctx, `SELECT `+recordColumns+` FROM escrow_records
        WHERE claimant_id = ANY($1)
        ORDER BY created_at DESC
        LIMIT $2`, ids, limit))
}
