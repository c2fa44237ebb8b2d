package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new admin and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, role string) (*Admin, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO admins (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id
	`, email, passwordHash, role).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &Admin{ID: id, Email: email, Role: role}, nil
}

// GetByEmail returns the admin and password hash for login. Returns nil
// when the email is unknown.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Admin, string, error) {
	var a Admin
	var passwordHash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, role, password_hash FROM admins WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.Role, &passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &a, passwordHash, nil
}
