package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/repository"
)

func seedUser(t *testing.T, repo *Repository, id, email string, used int) {
	t.Helper()
	err := repo.CreateUser(context.Background(), &domain.User{
		ID:               id,
		Email:            email,
		PasswordHash:     []byte("hash"),
		SubscriptionTier: domain.TierFree,
		RecipesGenerated: used,
		CreatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	repo := New()
	seedUser(t, repo, "u1", "a@example.com", 0)

	err := repo.CreateUser(context.Background(), &domain.User{ID: "u2", Email: "a@example.com"})
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = repo.GetUserByID(context.Background(), "u2")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateRecipeStopsAtLimit(t *testing.T) {
	repo := New()
	seedUser(t, repo, "u1", "a@example.com", 4)
	ctx := context.Background()

	user, err := repo.CreateRecipe(ctx, &domain.Recipe{ID: "r1", UserID: "u1"}, 5)
	require.NoError(t, err)
	require.Equal(t, 5, user.RecipesGenerated)

	_, err = repo.CreateRecipe(ctx, &domain.Recipe{ID: "r2", UserID: "u1"}, 5)
	require.ErrorIs(t, err, repository.ErrQuotaExceeded)

	recipes, err := repo.ListRecipesByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recipes, 1)
}

func TestCreateRecipeUnlimited(t *testing.T) {
	repo := New()
	seedUser(t, repo, "u1", "a@example.com", 100)

	user, err := repo.CreateRecipe(context.Background(), &domain.Recipe{ID: "r1", UserID: "u1"}, 0)
	require.NoError(t, err)
	require.Equal(t, 101, user.RecipesGenerated)
}

func TestCreateRecipeUnknownUser(t *testing.T) {
	repo := New()
	_, err := repo.CreateRecipe(context.Background(), &domain.Recipe{ID: "r1", UserID: "ghost"}, 5)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateRecipeConcurrentAtLimit(t *testing.T) {
	repo := New()
	seedUser(t, repo, "u1", "a@example.com", 4)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		denials   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateRecipe(context.Background(), &domain.Recipe{UserID: "u1"}, 5)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, repository.ErrQuotaExceeded):
				denials++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, denials)
	user, err := repo.GetUserByID(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 5, user.RecipesGenerated)
}

func TestListRecipesNewestFirst(t *testing.T) {
	repo := New()
	seedUser(t, repo, "u1", "a@example.com", 0)
	ctx := context.Background()
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		_, err := repo.CreateRecipe(ctx, &domain.Recipe{ID: id, UserID: "u1", CreatedAt: base.Add(offsets[i])}, 0)
		require.NoError(t, err)
	}

	recipes, err := repo.ListRecipesByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recipes, 3)
	require.Equal(t, "new", recipes[0].ID)
	require.Equal(t, "mid", recipes[1].ID)
	require.Equal(t, "old", recipes[2].ID)
}

func TestDeleteUserRemovesRecipes(t *testing.T) {
	repo := New()
	seedUser(t, repo, "u1", "a@example.com", 0)
	ctx := context.Background()
	_, err := repo.CreateRecipe(ctx, &domain.Recipe{ID: "r1", UserID: "u1"}, 0)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteUser(ctx, "u1"))
	_, err = repo.GetUserByEmail(ctx, "a@example.com")
	require.ErrorIs(t, err, repository.ErrNotFound)
	recipes, err := repo.ListRecipesByUser(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, recipes)
}
