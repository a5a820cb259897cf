package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/repository"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, subscription_tier, recipes_generated, created_at`

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository   = (*Repository)(nil)
	_ repository.RecipeRepository = (*Repository)(nil)
)

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateUser inserts a user. The unique index on email is the only
// existence check.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, subscription_tier, recipes_generated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, string(user.SubscriptionTier), user.RecipesGenerated, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// CreateRecipe increments the owner's counter under the quota condition and
// inserts the recipe in the same transaction. Concurrent callers serialize on
// the user row, and the WHERE clause is re-evaluated against the committed
// counter, so the limit cannot be overrun.
func (r *Repository) CreateRecipe(ctx context.Context, recipe *domain.Recipe, limit int) (*domain.User, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin recipe tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const consume = `UPDATE users SET recipes_generated = recipes_generated + 1
		WHERE id = $1 AND ($2::int <= 0 OR recipes_generated < $2::int)
		RETURNING ` + userColumns
	user, err := scanUser(tx.QueryRow(ctx, consume, recipe.UserID, limit))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("consume quota: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, recipe.UserID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check user: %w", err)
		}
		if !exists {
			return nil, repository.ErrNotFound
		}
		return nil, repository.ErrQuotaExceeded
	}

	const insert = `INSERT INTO recipes (id, user_id, title, ingredients, instructions, dietary_tags, cooking_time, servings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.Exec(ctx, insert,
		recipe.ID,
		recipe.UserID,
		recipe.Title,
		nonNil(recipe.Ingredients),
		nonNil(recipe.Instructions),
		nonNil(recipe.DietaryTags),
		recipe.CookingTime,
		recipe.Servings,
		recipe.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert recipe: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit recipe tx: %w", err)
	}
	return user, nil
}

// ListRecipesByUser returns recipes owned by the user, newest first.
func (r *Repository) ListRecipesByUser(ctx context.Context, userID string) ([]domain.Recipe, error) {
	const query = `SELECT id, user_id, title, ingredients, instructions, dietary_tags, cooking_time, servings, created_at
		FROM recipes
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipes := make([]domain.Recipe, 0)
	for rows.Next() {
		var recipe domain.Recipe
		if err := rows.Scan(
			&recipe.ID,
			&recipe.UserID,
			&recipe.Title,
			&recipe.Ingredients,
			&recipe.Instructions,
			&recipe.DietaryTags,
			&recipe.CookingTime,
			&recipe.Servings,
			&recipe.CreatedAt,
		); err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recipes, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		tier string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &tier, &u.RecipesGenerated, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	u.SubscriptionTier = domain.Tier(tier)
	return &u, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
