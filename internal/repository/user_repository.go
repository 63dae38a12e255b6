package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegate/internal/entities"
)

// Postgres unique_violation.
const pgUniqueViolation = "23505"

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts the user. A duplicate username or email yields (nil, nil)
// instead of a storage error; the caller decides how to report it.
func (r *UserRepository) Create(ctx context.Context, user *entities.User) (*entities.User, error) {
	_, err := r.db.Exec(ctx,
		"INSERT INTO users (id, username, email, hashed_password, disabled) VALUES ($1, $2, $3, $4, $5)",
		user.ID, user.Username, user.Email, user.PasswordHash, user.Disabled)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	return r.getBy(ctx, "username = $1", username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	return r.getBy(ctx, "email = $1", email)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *UserRepository) getBy(ctx context.Context, where string, arg any) (*entities.User, error) {
	var user entities.User
	err := r.db.QueryRow(ctx,
		"SELECT id, username, email, hashed_password, disabled FROM users WHERE "+where,
		arg).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Disabled)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
