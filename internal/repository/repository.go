package repository

import (
	"context"

	"github.com/splax/recipebox/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	// CreateUser inserts a user, returning ErrConflict when the email is taken.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// RecipeRepository persists generated recipes.
type RecipeRepository interface {
	// CreateRecipe stores recipe and increments its owner's usage counter as
	// one atomic operation. When limit is positive the write only applies
	// while the counter is below limit; otherwise ErrQuotaExceeded is
	// returned and nothing is written. The updated owner is returned.
	CreateRecipe(ctx context.Context, recipe *domain.Recipe, limit int) (*domain.User, error)
	// ListRecipesByUser returns the user's recipes, newest first.
	ListRecipesByUser(ctx context.Context, userID string) ([]domain.Recipe, error)
}
