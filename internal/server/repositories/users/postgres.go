package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/corpass/corpass/internal/common"
	"github.com/corpass/corpass/internal/dbx"
	"github.com/corpass/corpass/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (id, email, password_hash, wrapped_data_key, recovery_code)
         VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at
		 `

	user.ID = uuid.NewString()

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.WrappedDataKey, user.RecoveryCode).
		Scan(&user.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`SELECT id, email, password_hash, wrapped_data_key, recovery_code, refresh_token, cor_id, created_at
		 FROM users
		 WHERE email = $1
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByCorID(ctx context.Context, corID string) (*models.User, error) {
	query :=
		`SELECT id, email, password_hash, wrapped_data_key, recovery_code, refresh_token, cor_id, created_at
		 FROM users
		 WHERE cor_id = $1
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, corID))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.WrappedDataKey,
		&user.RecoveryCode, &user.RefreshToken, &user.CorID, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) UpdateRefreshToken(ctx context.Context, userID string, token string) error {
	query :=
		`UPDATE users SET refresh_token = $2
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	query :=
		`UPDATE users SET refresh_token = NULL
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// SwapRefreshToken replaces the stored refresh token with next, but only if
// the stored value still equals presented. The comparison and the write are a
// single statement so two concurrent rotations cannot both succeed. Returns
// false when the stored token did not match.
func (r *PostgresRepository) SwapRefreshToken(ctx context.Context, userID string, presented string, next string) (bool, error) {
	query :=
		`UPDATE users SET refresh_token = $3
		 WHERE id = $1 AND refresh_token = $2
		 `

	res, err := r.db.ExecContext(ctx, query, userID, presented, next)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return affected == 1, nil
}

func (r *PostgresRepository) SetCorID(ctx context.Context, userID string, corID string) error {
	query :=
		`UPDATE users SET cor_id = $2
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, corID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateRecoveryCode(ctx context.Context, userID string, sealed string) error {
	query :=
		`UPDATE users SET recovery_code = $2
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, sealed); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
