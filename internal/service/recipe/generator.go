package recipe

import (
	"context"
	"fmt"
	"strings"
)

// Defaults applied when the caller omits optional generation parameters.
const (
	DefaultCookingTime = 30
	DefaultServings    = 4
)

// DefaultDietaryTags is used when the request omits dietary preferences. An
// explicit empty list is kept as is.
var DefaultDietaryTags = []string{"balanced"}

// Params are the structured inputs to a generator.
type Params struct {
	Ingredients        []string `json:"ingredients"`
	DietaryPreferences []string `json:"dietaryPreferences,omitempty"`
	CookingTime        int      `json:"cookingTime,omitempty"`
	Servings           int      `json:"servings,omitempty"`
}

// WithDefaults trims list entries and fills omitted optional fields. Cooking
// time and servings of zero or less count as omitted.
func (p Params) WithDefaults() Params {
	out := Params{
		Ingredients:        cleanList(p.Ingredients),
		DietaryPreferences: cleanList(p.DietaryPreferences),
		CookingTime:        p.CookingTime,
		Servings:           p.Servings,
	}
	if p.DietaryPreferences == nil {
		out.DietaryPreferences = append([]string{}, DefaultDietaryTags...)
	}
	if out.CookingTime <= 0 {
		out.CookingTime = DefaultCookingTime
	}
	if out.Servings <= 0 {
		out.Servings = DefaultServings
	}
	return out
}

// Draft is the fixed record every generator produces.
type Draft struct {
	Title        string   `json:"title"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
	DietaryTags  []string `json:"dietaryTags"`
	CookingTime  int      `json:"cookingTime"`
	Servings     int      `json:"servings"`
}

// fill completes missing draft fields from defaulted params.
func (d Draft) fill(p Params) Draft {
	if strings.TrimSpace(d.Title) == "" {
		d.Title = templateTitle(p.Ingredients)
	}
	if len(d.Ingredients) == 0 {
		d.Ingredients = append([]string{}, p.Ingredients...)
	}
	if d.Instructions == nil {
		d.Instructions = []string{}
	}
	if len(d.DietaryTags) == 0 {
		d.DietaryTags = append([]string{}, p.DietaryPreferences...)
	}
	if d.CookingTime <= 0 {
		d.CookingTime = p.CookingTime
	}
	if d.Servings <= 0 {
		d.Servings = p.Servings
	}
	return d
}

// Generator produces recipe content from structured parameters. Params
// passed to Generate already have defaults applied.
type Generator interface {
	Generate(ctx context.Context, params Params) (Draft, error)
}

// TemplateGenerator builds a placeholder recipe without calling out to a
// model. It is the generator used when no remote endpoint is configured.
type TemplateGenerator struct{}

var templateInstructions = []string{
	"1. Prepare all your ingredients",
	"2. Follow the cooking process",
	"3. Season to taste",
	"4. Serve and enjoy your delicious meal!",
}

// Generate implements Generator.
func (TemplateGenerator) Generate(ctx context.Context, params Params) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	ingredients := make([]string, 0, len(params.Ingredients))
	for _, ing := range params.Ingredients {
		ingredients = append(ingredients, fmt.Sprintf("%s - 2 cups", ing))
	}
	return Draft{
		Title:        templateTitle(params.Ingredients),
		Ingredients:  ingredients,
		Instructions: append([]string(nil), templateInstructions...),
		DietaryTags:  append([]string{}, params.DietaryPreferences...),
		CookingTime:  params.CookingTime,
		Servings:     params.Servings,
	}, nil
}

func templateTitle(ingredients []string) string {
	return "AI Generated Recipe with " + strings.Join(ingredients, ", ")
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
