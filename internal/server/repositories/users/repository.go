package users

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

var ErrUsernameTaken = errors.New("username already taken")

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	// Touch advances the user's storage clock past both its previous value
	// and now, and returns it. It also locks the user row until the
	// transaction ends.
	Touch(ctx context.Context, userID string, now int64) (int64, error)
}
