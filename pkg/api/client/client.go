package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is used when no API address is configured.
const DefaultBaseURL = "http://localhost:3000"

// ErrQuotaExceeded is returned by Generate when the account has no
// generations left. The API reports this with a 200 status.
var ErrQuotaExceeded = errors.New("generation quota exceeded")

// Client provides typed access to the recipebox API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// QuotaError carries the server's explanation of a quota denial.
type QuotaError struct {
	Message string
}

func (e QuotaError) Error() string { return e.Message }

// Unwrap lets errors.Is match ErrQuotaExceeded.
func (e QuotaError) Unwrap() error { return ErrQuotaExceeded }

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return errors.New("client is nil")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User reflects API user payloads.
type User struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	SubscriptionTier string `json:"subscriptionTier"`
	RecipesGenerated int    `json:"recipesGenerated"`
}

// Session is returned by Register and Login.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, email, password string) (Session, error) {
	return c.credentials(ctx, "/api/auth/register", email, password)
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	return c.credentials(ctx, "/api/auth/login", email, password)
}

func (c *Client) credentials(ctx context.Context, path, email, password string) (Session, error) {
	body := map[string]string{"email": email, "password": password}
	var resp Session
	if err := c.do(ctx, http.MethodPost, path, body, "", &resp); err != nil {
		return Session{}, err
	}
	return resp, nil
}

// Recipe mirrors a stored recipe.
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

// GenerateInput is the body of a generation request. Zero values are
// omitted so the server applies its defaults.
type GenerateInput struct {
	Ingredients        []string `json:"ingredients"`
	DietaryPreferences []string `json:"dietaryPreferences,omitempty"`
	CookingTime        int      `json:"cookingTime,omitempty"`
	Servings           int      `json:"servings,omitempty"`
}

// Usage reports consumption after a generation. Limit is nil for
// unlimited tiers.
type Usage struct {
	Generated int
	Limit     *int
}

// Generation is a successful generation result.
type Generation struct {
	Recipe Recipe
	Usage  Usage
}

// Generate requests a new recipe. A quota denial returns a QuotaError.
func (c *Client) Generate(ctx context.Context, token string, input GenerateInput) (Generation, error) {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Recipe  Recipe `json:"recipe"`
		Usage   struct {
			GeneratedThisMonth int             `json:"generatedThisMonth"`
			Limit              json.RawMessage `json:"limit"`
		} `json:"usage"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/recipes/generate", input, token, &resp); err != nil {
		return Generation{}, err
	}
	if !resp.Success {
		return Generation{}, QuotaError{Message: resp.Error}
	}
	out := Generation{Recipe: resp.Recipe, Usage: Usage{Generated: resp.Usage.GeneratedThisMonth}}
	var limit int
	if err := json.Unmarshal(resp.Usage.Limit, &limit); err == nil {
		out.Usage.Limit = &limit
	}
	return out, nil
}

// History lists the caller's recipes, newest first.
func (c *Client) History(ctx context.Context, token string) ([]Recipe, error) {
	var resp struct {
		Recipes []Recipe `json:"recipes"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/recipes/history", nil, token, &resp); err != nil {
		return nil, err
	}
	return resp.Recipes, nil
}

// Banner is the root health response.
type Banner struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

// Health fetches the service banner.
func (c *Client) Health(ctx context.Context) (Banner, error) {
	var banner Banner
	if err := c.do(ctx, http.MethodGet, "/", nil, "", &banner); err != nil {
		return Banner{}, err
	}
	return banner, nil
}
