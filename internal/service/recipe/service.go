package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/repository"
	"github.com/splax/recipebox/internal/service/quota"
)

var (
	// ErrQuotaExceeded is returned when the user's tier allows no further generations.
	ErrQuotaExceeded = errors.New("generation quota exceeded")
	// ErrNoIngredients is returned when the request carries no usable ingredient.
	ErrNoIngredients = errors.New("at least one ingredient is required")
	errNoUser        = errors.New("recipe: user required")
)

// QuotaMessage is the user-facing explanation of a quota denial.
const QuotaMessage = "Free tier limit reached (5 recipes/month). Upgrade to premium for unlimited recipes."

// Publisher fans out payloads to a user's live subscribers.
type Publisher interface {
	Broadcast(userID string, payload []byte)
}

// Service orchestrates quota checks, generation and persistence.
type Service struct {
	recipes   repository.RecipeRepository
	generator Generator
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// New constructs a Service. timeout bounds each generator call; zero
// disables the bound. publisher may be nil.
func New(recipes repository.RecipeRepository, generator Generator, publisher Publisher, logger *slog.Logger, timeout time.Duration) Service {
	if generator == nil {
		generator = TemplateGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		recipes:   recipes,
		generator: generator,
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Usage summarizes a user's consumption after a generation.
type Usage struct {
	Generated int
	// Limit is zero for unlimited tiers.
	Limit int
}

// Result is the outcome of a successful generation.
type Result struct {
	Recipe domain.Recipe
	Usage  Usage
}

// Generate creates a recipe for user. The quota is checked up front to avoid
// generator work for users already at their limit, and enforced again by the
// store when the recipe and the incremented counter are written together.
func (s Service) Generate(ctx context.Context, user *domain.User, params Params) (*Result, error) {
	if user == nil {
		return nil, errNoUser
	}
	params = params.WithDefaults()
	if len(params.Ingredients) == 0 {
		return nil, ErrNoIngredients
	}
	if !quota.Allow(user.SubscriptionTier, user.RecipesGenerated) {
		return nil, ErrQuotaExceeded
	}

	draft, err := s.generate(ctx, params)
	if err != nil {
		return nil, err
	}

	recipe := domain.Recipe{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Title:        draft.Title,
		Ingredients:  draft.Ingredients,
		Instructions: draft.Instructions,
		DietaryTags:  draft.DietaryTags,
		CookingTime:  draft.CookingTime,
		Servings:     draft.Servings,
		CreatedAt:    s.now().UTC(),
	}
	limit := quota.Limit(user.SubscriptionTier)
	owner, err := s.recipes.CreateRecipe(ctx, &recipe, limit)
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			s.logger.Info("generation denied at commit", "user_id", user.ID)
			return nil, ErrQuotaExceeded
		}
		return nil, fmt.Errorf("store recipe: %w", err)
	}

	result := &Result{
		Recipe: recipe,
		Usage:  Usage{Generated: owner.RecipesGenerated, Limit: limit},
	}
	s.logger.Info("recipe generated", "user_id", user.ID, "recipe_id", recipe.ID, "generated", owner.RecipesGenerated)
	s.publish(user.ID, result)
	return result, nil
}

// History returns the user's recipes, newest first.
func (s Service) History(ctx context.Context, userID string) ([]domain.Recipe, error) {
	recipes, err := s.recipes.ListRecipesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	return recipes, nil
}

func (s Service) generate(ctx context.Context, params Params) (Draft, error) {
	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	draft, err := s.generator.Generate(genCtx, params)
	if err != nil {
		s.logger.Warn("generator failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return Draft{}, fmt.Errorf("generate recipe: %w", err)
	}
	return draft.fill(params), nil
}

func (s Service) publish(userID string, result *Result) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":   "recipe.generated",
		"recipe": result.Recipe,
		"usage": map[string]any{
			"generatedThisMonth": result.Usage.Generated,
			"limit":              LimitLabel(result.Usage.Limit),
		},
	})
	if err != nil {
		s.logger.Warn("encode live event failed", "error", err)
		return
	}
	s.publisher.Broadcast(userID, payload)
}

// LimitLabel renders a limit for API responses: the number, or "unlimited".
func LimitLabel(limit int) any {
	if limit <= 0 {
		return "unlimited"
	}
	return limit
}
