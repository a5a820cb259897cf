// Package firestore implements the repositories on Cloud Firestore.
//
// Email uniqueness is enforced by claim documents in the user_emails
// collection keyed by the hex SHA-256 of the email, since addresses may
// contain characters that are not valid in a document ID; a claim is created with the user in one
// transaction, and Firestore rejects the second Create of the same key.
// Listing a user's recipes newest first needs a composite index on
// recipes(userId ASC, createdAt DESC).
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/repository"
)

const (
	usersCollection   = "users"
	emailsCollection  = "user_emails"
	recipesCollection = "recipes"
)

// Repository implements persistence interfaces on Firestore.
type Repository struct {
	client *firestore.Client
}

var (
	_ repository.UserRepository   = (*Repository)(nil)
	_ repository.RecipeRepository = (*Repository)(nil)
)

// New constructs a Repository around an existing client.
func New(client *firestore.Client) *Repository {
	return &Repository{client: client}
}

type userDoc struct {
	ID               string    `firestore:"id"`
	Email            string    `firestore:"email"`
	PasswordHash     []byte    `firestore:"passwordHash"`
	SubscriptionTier string    `firestore:"subscriptionTier"`
	RecipesGenerated int       `firestore:"recipesGenerated"`
	CreatedAt        time.Time `firestore:"createdAt"`
}

type emailClaim struct {
	UserID string `firestore:"userId"`
}

type recipeDoc struct {
	ID           string    `firestore:"id"`
	UserID       string    `firestore:"userId"`
	Title        string    `firestore:"title"`
	Ingredients  []string  `firestore:"ingredients"`
	Instructions []string  `firestore:"instructions"`
	DietaryTags  []string  `firestore:"dietaryTags"`
	CookingTime  int       `firestore:"cookingTime"`
	Servings     int       `firestore:"servings"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// Ping issues a minimal read to verify connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	iter := r.client.Collection(usersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// CreateUser stores the user and its email claim atomically.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	userRef := r.client.Collection(usersCollection).Doc(user.ID)
	claimRef := r.client.Collection(emailsCollection).Doc(emailKey(user.Email))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(claimRef, emailClaim{UserID: user.ID}); err != nil {
			return err
		}
		return tx.Create(userRef, toUserDoc(user))
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return repository.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail resolves the email claim and loads the user.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	snap, err := r.client.Collection(emailsCollection).Doc(emailKey(email)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get email claim: %w", err)
	}
	var claim emailClaim
	if err := snap.DataTo(&claim); err != nil {
		return nil, fmt.Errorf("decode email claim: %w", err)
	}
	return r.GetUserByID(ctx, claim.UserID)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, repository.ErrNotFound
	}
	snap, err := r.client.Collection(usersCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return decodeUser(snap)
}

// CreateRecipe reads the owner, checks the quota and writes the incremented
// counter together with the recipe in one transaction. Firestore retries the
// transaction when the user document changes underneath it.
func (r *Repository) CreateRecipe(ctx context.Context, recipe *domain.Recipe, limit int) (*domain.User, error) {
	userRef := r.client.Collection(usersCollection).Doc(recipe.UserID)
	recipeRef := r.client.Collection(recipesCollection).Doc(recipe.ID)

	var updated *domain.User
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(userRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repository.ErrNotFound
			}
			return err
		}
		user, err := decodeUser(snap)
		if err != nil {
			return err
		}
		if limit > 0 && user.RecipesGenerated >= limit {
			return repository.ErrQuotaExceeded
		}
		user.RecipesGenerated++
		if err := tx.Update(userRef, []firestore.Update{{Path: "recipesGenerated", Value: user.RecipesGenerated}}); err != nil {
			return err
		}
		if err := tx.Create(recipeRef, toRecipeDoc(recipe)); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrQuotaExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("create recipe: %w", err)
	}
	return updated, nil
}

// ListRecipesByUser returns the user's recipes, newest first.
func (r *Repository) ListRecipesByUser(ctx context.Context, userID string) ([]domain.Recipe, error) {
	iter := r.client.Collection(recipesCollection).
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	recipes := make([]domain.Recipe, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list recipes: %w", err)
		}
		var doc recipeDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode recipe %s: %w", snap.Ref.ID, err)
		}
		recipes = append(recipes, fromRecipeDoc(doc))
	}
	return recipes, nil
}

// emailKey derives the claim document ID for an email.
func emailKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

func decodeUser(snap *firestore.DocumentSnapshot) (*domain.User, error) {
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
	}
	return &domain.User{
		ID:               doc.ID,
		Email:            doc.Email,
		PasswordHash:     doc.PasswordHash,
		SubscriptionTier: domain.Tier(doc.SubscriptionTier),
		RecipesGenerated: doc.RecipesGenerated,
		CreatedAt:        doc.CreatedAt,
	}, nil
}

func toUserDoc(user *domain.User) userDoc {
	return userDoc{
		ID:               user.ID,
		Email:            user.Email,
		PasswordHash:     user.PasswordHash,
		SubscriptionTier: string(user.SubscriptionTier),
		RecipesGenerated: user.RecipesGenerated,
		CreatedAt:        user.CreatedAt,
	}
}

func toRecipeDoc(recipe *domain.Recipe) recipeDoc {
	return recipeDoc{
		ID:           recipe.ID,
		UserID:       recipe.UserID,
		Title:        recipe.Title,
		Ingredients:  recipe.Ingredients,
		Instructions: recipe.Instructions,
		DietaryTags:  recipe.DietaryTags,
		CookingTime:  recipe.CookingTime,
		Servings:     recipe.Servings,
		CreatedAt:    recipe.CreatedAt,
	}
}

func fromRecipeDoc(doc recipeDoc) domain.Recipe {
	// Firestore drops empty arrays to null.
	if doc.Ingredients == nil {
		doc.Ingredients = []string{}
	}
	if doc.Instructions == nil {
		doc.Instructions = []string{}
	}
	if doc.DietaryTags == nil {
		doc.DietaryTags = []string{}
	}
	return domain.Recipe{
		ID:           doc.ID,
		UserID:       doc.UserID,
		Title:        doc.Title,
		Ingredients:  doc.Ingredients,
		Instructions: doc.Instructions,
		DietaryTags:  doc.DietaryTags,
		CookingTime:  doc.CookingTime,
		Servings:     doc.Servings,
		CreatedAt:    doc.CreatedAt,
	}
}
