package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/research-auth/internal/domain"
)

// RefreshTokenRepository manages refresh token rows keyed by token digest.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	// DeleteByHash removes the row and returns it, or nil when none matched.
	DeleteByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	DeleteExpiredForAccount(ctx context.Context, accountID string, now time.Time) (int64, error)
	DeleteAllForAccount(ctx context.Context, accountID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type refreshTokenRepository struct {
	db DBTX
}

// NewRefreshTokenRepository constructs repository.
func NewRefreshTokenRepository(db DBTX) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	const query = `
        INSERT INTO refresh_tokens (account_id, token_hash, issued_at, expires_at, last_used_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		token.AccountID,
		token.TokenHash,
		token.IssuedAt,
		token.ExpiresAt,
		token.LastUsedAt,
	).Scan(&token.ID)
}

func (r *refreshTokenRepository) DeleteByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	const query = `
        DELETE FROM refresh_tokens WHERE token_hash=$1
        RETURNING id, account_id, token_hash, issued_at, expires_at, last_used_at`
	var token domain.RefreshToken
	if err := r.db.QueryRow(ctx, query, hash).Scan(
		&token.ID,
		&token.AccountID,
		&token.TokenHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.LastUsedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

func (r *refreshTokenRepository) DeleteExpiredForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE account_id=$1 AND expires_at <= $2`
	cmd, err := r.db.Exec(ctx, query, accountID, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *refreshTokenRepository) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE account_id=$1`
	cmd, err := r.db.Exec(ctx, query, accountID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	cmd, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
