package venue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores venues in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a venue repository over db.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, v Venue) error {
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return err
	}
	walletID, err := uuid.Parse(v.WalletID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO venues (id, name, wallet_id, account_code, commission_bps, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, id, v.Name, walletID, v.AccountCode, v.CommissionBps, v.CreatedAt.UTC())
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Venue, error) {
	venueID, err := uuid.Parse(id)
	if err != nil {
		return Venue{}, ErrVenueNotFound
	}
	var (
		v        Venue
		idVal    uuid.UUID
		walletID uuid.UUID
	)
	err = r.db.QueryRow(ctx, `SELECT id, name, wallet_id, account_code, commission_bps, created_at
        FROM venues WHERE id = $1`, venueID).Scan(&idVal, &v.Name, &walletID, &v.AccountCode, &v.CommissionBps, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Venue{}, ErrVenueNotFound
	}
	if err != nil {
		return Venue{}, err
	}
	v.ID = idVal.String()
	v.WalletID = walletID.String()
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

type memoryRepository struct {
	mu     sync.RWMutex
	venues map[string]Venue
}

// NewMemoryRepository builds an in-memory venue repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{venues: make(map[string]Venue)}
}

func (r *memoryRepository) Create(_ context.Context, v Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[v.ID] = v
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return Venue{}, ErrVenueNotFound
	}
	return v, nil
}
