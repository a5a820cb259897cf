package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/repository/memory"
	"github.com/splax/recipebox/internal/service/auth"
	"github.com/splax/recipebox/internal/service/recipe"
	"github.com/splax/recipebox/internal/ws"
	"github.com/splax/recipebox/pkg/config"
	jwtpkg "github.com/splax/recipebox/pkg/jwt"
)

const testSecret = "router-test-secret"

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string, int, time.Duration) rateDecision {
	return rateDecision{allowed: true}
}

func (allowAllLimiter) Close() {}

type denyLimiter struct{}

func (denyLimiter) Allow(_ string, limit int, window time.Duration) rateDecision {
	return rateDecision{allowed: false, count: limit, windowEnd: time.Now().Add(window)}
}

func (denyLimiter) Close() {}

type testEnv struct {
	router *Router
	store  *memory.Repository
	hub    *ws.Hub
}

func newTestEnv(t *testing.T, limiter RateLimiter, dbHealth func(context.Context) error) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	hub := ws.NewHub()
	cfg := config.APIConfig{JWTSecret: testSecret, TokenTTL: time.Hour}
	authSvc := auth.New(store, logger, cfg)
	recipeSvc := recipe.New(store, recipe.TemplateGenerator{}, hub, logger, time.Second)
	router := NewRouter(logger, authSvc, recipeSvc, hub, limiter, nil, dbHealth)
	t.Cleanup(func() {
		router.Close()
		hub.Close()
	})
	return &testEnv{router: router, store: store, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:40000"
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func (e *testEnv) register(t *testing.T, email, password string) (string, string) {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := body["user"].(map[string]any)
	return body["token"].(string), user["id"].(string)
}

func (e *testEnv) seedUser(t *testing.T, tier domain.Tier, generated int) (string, string) {
	t.Helper()
	user := &domain.User{
		ID:               "seed-" + string(tier),
		Email:            string(tier) + "@example.com",
		PasswordHash:     []byte("unused"),
		SubscriptionTier: tier,
		RecipesGenerated: generated,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	token, err := jwtpkg.GenerateToken(user.ID, testSecret, time.Hour)
	require.NoError(t, err)
	return token, user.ID
}

func TestRegisterGenerateHistoryFlow(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)

	rec, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "u1@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["success"])
	require.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	require.Equal(t, "u1@example.com", user["email"])
	require.Equal(t, "free", user["subscriptionTier"])
	require.EqualValues(t, 0, user["recipesGenerated"])
	token := body["token"].(string)

	rec, body = env.do(t, http.MethodPost, "/api/recipes/generate", token, map[string]any{"ingredients": []string{"egg", "rice"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, body["success"])
	created := body["recipe"].(map[string]any)
	require.Equal(t, "AI Generated Recipe with egg, rice", created["title"])
	require.EqualValues(t, 30, created["cookingTime"])
	require.EqualValues(t, 4, created["servings"])
	require.Equal(t, []any{"balanced"}, created["dietaryTags"])
	require.Equal(t, []any{"egg - 2 cups", "rice - 2 cups"}, created["ingredients"])
	require.Len(t, created["instructions"], 4)
	usage := body["usage"].(map[string]any)
	require.EqualValues(t, 1, usage["generatedThisMonth"])
	require.EqualValues(t, 5, usage["limit"])

	_, body = env.do(t, http.MethodPost, "/api/recipes/generate", token, map[string]any{
		"ingredients":        []string{"tofu"},
		"dietaryPreferences": []string{"vegan"},
		"cookingTime":        15,
		"servings":           2,
	})
	second := body["recipe"].(map[string]any)
	require.EqualValues(t, 15, second["cookingTime"])
	require.Equal(t, []any{"vegan"}, second["dietaryTags"])

	rec, body = env.do(t, http.MethodGet, "/api/recipes/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recipes := body["recipes"].([]any)
	require.Len(t, recipes, 2)
	require.Equal(t, second["id"], recipes[0].(map[string]any)["id"])
	require.Equal(t, created["id"], recipes[1].(map[string]any)["id"])
}

func TestHistoryEmptyIsArray(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	token, _ := env.register(t, "empty@example.com", "pw")

	rec, body := env.do(t, http.MethodGet, "/api/recipes/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{}, body["recipes"])
}

func TestRegisterRejectsDuplicateAndBlank(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	env.register(t, "dup@example.com", "pw")

	rec, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": " DUP@example.com ", "password": "other"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "User already exists", body["error"])

	rec, _ = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "x@example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/auth/register", "", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid JSON body", body["error"])
}

func TestGenerateDietaryDefaultOnlyWhenOmitted(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	token, _ := env.register(t, "diet@example.com", "pw")

	_, body := env.do(t, http.MethodPost, "/api/recipes/generate", token, `{"ingredients":["egg"],"dietaryPreferences":[]}`)
	created := body["recipe"].(map[string]any)
	require.Equal(t, []any{}, created["dietaryTags"])

	_, body = env.do(t, http.MethodPost, "/api/recipes/generate", token, `{"ingredients":["egg"]}`)
	created = body["recipe"].(map[string]any)
	require.Equal(t, []any{"balanced"}, created["dietaryTags"])
}

func TestRegisterRejectsOverlongPassword(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)

	rec, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "long@example.com",
		"password": strings.Repeat("p", 80),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Password must be at most 72 bytes", body["error"])
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	env.register(t, "login@example.com", "correct")

	wrongPw, wrongBody := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "login@example.com", "password": "nope"})
	unknown, unknownBody := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "nope"})
	require.Equal(t, http.StatusBadRequest, wrongPw.Code)
	require.Equal(t, wrongPw.Code, unknown.Code)
	require.Equal(t, wrongBody, unknownBody)
	require.Equal(t, "Invalid credentials", wrongBody["error"])

	rec, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "login@example.com", "password": "correct"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, body["token"])
}

func TestAuthGuard(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	payload := map[string]any{"ingredients": []string{"egg"}}

	rec, body := env.do(t, http.MethodPost, "/api/recipes/generate", "", payload)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Access token required", body["error"])

	rec, body = env.do(t, http.MethodPost, "/api/recipes/generate", "not-a-jwt", payload)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Invalid token", body["error"])

	forged, err := jwtpkg.GenerateToken("someone", "wrong-secret", time.Hour)
	require.NoError(t, err)
	rec, _ = env.do(t, http.MethodGet, "/api/recipes/history", forged, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeletedUserTokenIsRejected(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	token, userID := env.register(t, "gone@example.com", "pw")
	require.NoError(t, env.store.DeleteUser(context.Background(), userID))

	rec, body := env.do(t, http.MethodPost, "/api/recipes/generate", token, map[string]any{"ingredients": []string{"egg"}})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Invalid token", body["error"])
}

func TestFreeTierQuotaSoftDeny(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	token, userID := env.register(t, "free@example.com", "pw")
	payload := map[string]any{"ingredients": []string{"egg"}}

	for i := 1; i <= 5; i++ {
		rec, body := env.do(t, http.MethodPost, "/api/recipes/generate", token, payload)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, true, body["success"])
		require.EqualValues(t, i, body["usage"].(map[string]any)["generatedThisMonth"])
	}

	rec, body := env.do(t, http.MethodPost, "/api/recipes/generate", token, payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["success"])
	require.Equal(t, recipe.QuotaMessage, body["error"])

	user, err := env.store.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 5, user.RecipesGenerated)

	_, body = env.do(t, http.MethodGet, "/api/recipes/history", token, nil)
	require.Len(t, body["recipes"], 5)
}

func TestPremiumTierIsUnlimited(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	token, _ := env.seedUser(t, domain.TierPremium, 40)

	rec, body := env.do(t, http.MethodPost, "/api/recipes/generate", token, map[string]any{"ingredients": []string{"kale"}})
	require.Equal(t, http.StatusOK, rec.Code)
	usage := body["usage"].(map[string]any)
	require.EqualValues(t, 41, usage["generatedThisMonth"])
	require.Equal(t, "unlimited", usage["limit"])
}

func TestConcurrentGenerationAtLimitAdmitsOne(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	token, userID := env.seedUser(t, domain.TierFree, 4)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]any{"ingredients": []string{"egg"}})
			req := httptest.NewRequest(http.MethodPost, "/api/recipes/generate", bytes.NewReader(raw))
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				return
			}
			if body["success"] == true {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	user, err := env.store.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 5, user.RecipesGenerated)
}

func TestGenerateValidation(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	token, userID := env.register(t, "val@example.com", "pw")

	rec, _ := env.do(t, http.MethodPost, "/api/recipes/generate", token, map[string]any{"ingredients": []string{" ", ""}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/recipes/generate", token, "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	user, err := env.store.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 0, user.RecipesGenerated)
}

func TestRateLimitRejects(t *testing.T) {
	env := newTestEnv(t, denyLimiter{}, nil)

	rec, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "pw"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate limit exceeded", body["error"])
	require.Equal(t, "12", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRegisterLimitedPerIP(t *testing.T) {
	env := newTestEnv(t, NewMemoryRateLimiter(), nil)
	for i := 0; i < rateLimitRegister; i++ {
		rec, _ := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email":    strings.Repeat("r", i+1) + "@example.com",
			"password": "pw",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "late@example.com", "password": "pw"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

type limitRecorder struct {
	mu     sync.Mutex
	limits map[string]int
}

func (l *limitRecorder) Allow(key string, limit int, window time.Duration) rateDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limits == nil {
		l.limits = make(map[string]int)
	}
	l.limits[key] = limit
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (l *limitRecorder) Close() {}

func TestGenerateLimitScalesWithTier(t *testing.T) {
	limiter := &limitRecorder{}
	env := newTestEnv(t, limiter, nil)
	freeToken, freeID := env.seedUser(t, domain.TierFree, 0)
	premiumToken, premiumID := env.seedUser(t, domain.TierPremium, 0)
	payload := map[string]any{"ingredients": []string{"rice"}}

	rec, _ := env.do(t, http.MethodPost, "/api/recipes/generate", freeToken, payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "30", rec.Header().Get("X-RateLimit-Limit"))

	rec, _ = env.do(t, http.MethodPost, "/api/recipes/generate", premiumToken, payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "120", rec.Header().Get("X-RateLimit-Limit"))

	rec, _ = env.do(t, http.MethodGet, "/api/recipes/history", premiumToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Equal(t, rateLimitGenerate, limiter.limits["generate|user:"+freeID])
	require.Equal(t, rateLimitGenerate*premiumRateMultiplier, limiter.limits["generate|user:"+premiumID])
	require.Equal(t, rateLimitUserRead, limiter.limits["history|user:"+premiumID])
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	rec, body := env.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", body["status"])
	require.Equal(t, "Recipe SaaS Backend is running!", body["message"])
	require.Equal(t, Version, body["version"])

	degraded := newTestEnv(t, allowAllLimiter{}, func(context.Context) error { return errors.New("db down") })
	rec, body = degraded.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "degraded", body["status"])

	healthy := newTestEnv(t, allowAllLimiter{}, func(context.Context) error { return nil })
	rec, body = healthy.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)

	rec, body := env.do(t, http.MethodGet, "/api/recipes/generate", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "method not allowed", body["error"])

	rec, _ = env.do(t, http.MethodGet, "/api/nothing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/recipes/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Less(t, rec.Code, 300)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/recipes/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "x-not-allowed")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLiveFeedReceivesGeneratedRecipe(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	token, userID := env.register(t, "live@example.com", "pw")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/recipes/live", header)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return env.hub.Subscribers(userID) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec, _ := env.do(t, http.MethodPost, "/api/recipes/generate", token, map[string]any{"ingredients": []string{"leek"}})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]any
	require.NoError(t, json.Unmarshal(msg, &event))
	require.Equal(t, "recipe.generated", event["type"])
	require.Equal(t, "AI Generated Recipe with leek", event["recipe"].(map[string]any)["title"])
}

func TestLiveFeedRequiresToken(t *testing.T) {
	env := newTestEnv(t, allowAllLimiter{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/recipes/live", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
