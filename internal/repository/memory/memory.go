// Package memory provides an in-process repository used for local
// development and tests. All operations are serialized by a single mutex, so
// conditional writes are atomic.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/repository"
)

// Repository stores users and recipes in memory.
type Repository struct {
	mu       sync.Mutex
	users    map[string]domain.User
	byEmail  map[string]string
	recipes  map[string][]storedRecipe
	sequence int64
}

type storedRecipe struct {
	recipe domain.Recipe
	seq    int64
}

var (
	_ repository.UserRepository   = (*Repository)(nil)
	_ repository.RecipeRepository = (*Repository)(nil)
)

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		users:   make(map[string]domain.User),
		byEmail: make(map[string]string),
		recipes: make(map[string][]storedRecipe),
	}
}

// CreateUser inserts a user, enforcing email uniqueness.
func (r *Repository) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[user.Email]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.users[user.ID]; ok {
		return repository.ErrConflict
	}
	r.users[user.ID] = cloneUser(*user)
	r.byEmail[user.Email] = user.ID
	return nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := cloneUser(r.users[id])
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u = cloneUser(u)
	return &u, nil
}

// DeleteUser removes a user and their recipes.
func (r *Repository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	delete(r.byEmail, u.Email)
	delete(r.recipes, id)
	return nil
}

// CreateRecipe stores the recipe and increments the owner's counter when the
// quota condition holds.
func (r *Repository) CreateRecipe(ctx context.Context, recipe *domain.Recipe, limit int) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[recipe.UserID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if limit > 0 && u.RecipesGenerated >= limit {
		return nil, repository.ErrQuotaExceeded
	}
	u.RecipesGenerated++
	r.users[u.ID] = u
	r.sequence++
	r.recipes[u.ID] = append(r.recipes[u.ID], storedRecipe{recipe: cloneRecipe(*recipe), seq: r.sequence})
	out := cloneUser(u)
	return &out, nil
}

// ListRecipesByUser returns the user's recipes, newest first.
func (r *Repository) ListRecipesByUser(_ context.Context, userID string) ([]domain.Recipe, error) {
	r.mu.Lock()
	stored := append([]storedRecipe(nil), r.recipes[userID]...)
	r.mu.Unlock()

	sort.SliceStable(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.recipe.CreatedAt.Equal(b.recipe.CreatedAt) {
			return a.recipe.CreatedAt.After(b.recipe.CreatedAt)
		}
		return a.seq > b.seq
	})
	recipes := make([]domain.Recipe, 0, len(stored))
	for _, s := range stored {
		recipes = append(recipes, cloneRecipe(s.recipe))
	}
	return recipes, nil
}

func cloneUser(u domain.User) domain.User {
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return u
}

func cloneRecipe(recipe domain.Recipe) domain.Recipe {
	recipe.Ingredients = append([]string{}, recipe.Ingredients...)
	recipe.Instructions = append([]string{}, recipe.Instructions...)
	recipe.DietaryTags = append([]string{}, recipe.DietaryTags...)
	return recipe
}
