package users

import (
	"context"

	"github.com/corpass/corpass/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByCorID(ctx context.Context, corID string) (*models.User, error)
	UpdateRefreshToken(ctx context.Context, userID string, token string) error
	ClearRefreshToken(ctx context.Context, userID string) error
	SwapRefreshToken(ctx context.Context, userID string, presented string, next string) (bool, error)
	SetCorID(ctx context.Context, userID string, corID string) error
	UpdateRecoveryCode(ctx context.Context, userID string, sealed string) error
}
