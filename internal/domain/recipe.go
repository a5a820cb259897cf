package domain

import "time"

// Recipe is a generated recipe owned by a single user. It is never modified
// after creation.
type Recipe struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	Ingredients  []string  `json:"ingredients"`
	Instructions []string  `json:"instructions"`
	DietaryTags  []string  `json:"dietaryTags"`
	CookingTime  int       `json:"cookingTime"`
	Servings     int       `json:"servings"`
	CreatedAt    time.Time `json:"createdAt"`
}
