package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"telegate/internal/entities"
)

// AccountRepository is the credential store: one row per managed phone in
// the sessions table, plus the many-to-many ownership links in
// user_accounts.
type AccountRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewAccountRepository(db *pgxpool.Pool, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{db: db, log: log.With().Str("component", "accounts").Logger()}
}

func (r *AccountRepository) Upsert(ctx context.Context, account *entities.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (phone, api_id, api_hash) VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET api_id = EXCLUDED.api_id, api_hash = EXCLUDED.api_hash`,
		account.Phone, account.APIID, account.APIHash)
	return err
}

func (r *AccountRepository) List(ctx context.Context, ownerID string) ([]entities.Account, error) {
	if ownerID != "" {
		accounts, err := r.query(ctx, `
			SELECT s.phone, s.api_id, s.api_hash
			FROM sessions s
			JOIN user_accounts ua ON s.phone = ua.phone
			WHERE ua.user_id = $1`, ownerID)
		if err == nil {
			return accounts, nil
		}
		// Availability over strictness: a broken ownership join degrades to
		// the unfiltered list instead of failing the request.
		r.log.Warn().Err(err).Str("user_id", ownerID).Msg("ownership join failed, listing all accounts")
	}
	return r.query(ctx, "SELECT phone, api_id, api_hash FROM sessions")
}

// LinkOwner grants ownerID access to phone. Idempotent: linking twice
// leaves one row, and the return value reports whether this call created it.
func (r *AccountRepository) LinkOwner(ctx context.Context, phone, ownerID string) (bool, error) {
	res, err := r.db.Exec(ctx, `
		INSERT INTO user_accounts (user_id, phone) VALUES ($1, $2)
		ON CONFLICT (user_id, phone) DO NOTHING`,
		ownerID, phone)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (r *AccountRepository) IsOwner(ctx context.Context, phone, ownerID string) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx,
		"SELECT 1 FROM user_accounts WHERE user_id = $1 AND phone = $2",
		ownerID, phone).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *AccountRepository) Exists(ctx context.Context, phone string) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx, "SELECT 1 FROM sessions WHERE phone = $1", phone).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the credential row. Ownership links are left dangling on
// purpose; every lookup joins through sessions so they are simply never
// seen again.
func (r *AccountRepository) Delete(ctx context.Context, phone string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM sessions WHERE phone = $1", phone)
	return err
}

func (r *AccountRepository) query(ctx context.Context, sql string, args ...any) ([]entities.Account, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []entities.Account
	for rows.Next() {
		var a entities.Account
		if err := rows.Scan(&a.Phone, &a.APIID, &a.APIHash); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
