package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/service/auth"
	"github.com/splax/recipebox/internal/service/recipe"
	"github.com/splax/recipebox/internal/ws"
)

// Version is reported by the root health banner.
const Version = "1.0.0"

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *mux.Router
	handler  http.Handler
	logger   *slog.Logger
	auth     auth.Service
	recipes  recipe.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	generations        *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitGenerate  = 30
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	maxBodyBytes       = 1 << 20
)

// NewRouter assembles routes with dependencies. An empty allowedOrigins list
// opens CORS to every origin.
func NewRouter(logger *slog.Logger, authSvc auth.Service, recipeSvc recipe.Service, hub *ws.Hub, limiter RateLimiter, allowedOrigins []string, dbHealth func(context.Context) error) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:     mux.NewRouter(),
		logger:  logger,
		auth:    authSvc,
		recipes: recipeSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.handler = cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
	}).Handler(r.mux)
	return r
}

// ServeHTTP delegates to the CORS-wrapped mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/", r.audit(r.handleRoot)).Methods(http.MethodGet)
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz)).Methods(http.MethodGet)
	r.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.mux.HandleFunc("/api/auth/register", r.audit(r.throttle(ratePolicy{route: "register", limit: rateLimitRegister, window: rateWindowDefault, key: rateLimitKeyIP}, r.handleRegister))).Methods(http.MethodPost)
	r.mux.HandleFunc("/api/auth/login", r.audit(r.throttle(ratePolicy{route: "login", limit: rateLimitLogin, window: rateWindowDefault, key: rateLimitKeyIP}, r.handleLogin))).Methods(http.MethodPost)
	r.mux.HandleFunc("/api/recipes/generate", r.audit(r.throttleUser(ratePolicy{route: "generate", limit: rateLimitGenerate, window: rateWindowDefault, premium: premiumRateMultiplier}, r.handleGenerate))).Methods(http.MethodPost)
	r.mux.HandleFunc("/api/recipes/history", r.audit(r.throttleUser(ratePolicy{route: "history", limit: rateLimitUserRead, window: rateWindowDefault}, r.handleHistory))).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/recipes/live", r.audit(r.throttleUser(ratePolicy{route: "live", limit: rateLimitWebsocket, window: rateWindowRealtime}, r.handleLive))).Methods(http.MethodGet)

	r.mux.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r.methodNotAllowed(w)
	})
	r.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r.notFound(w)
	})
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload credentialsPayload
	if err := decodeBody(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Register(req.Context(), payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingCredentials):
			writeError(w, http.StatusBadRequest, "Email and password are required")
		case errors.Is(err, auth.ErrPasswordTooLong):
			writeError(w, http.StatusBadRequest, "Password must be at most 72 bytes")
		case errors.Is(err, auth.ErrUserExists):
			writeError(w, http.StatusBadRequest, "User already exists")
		default:
			r.logger.Error("registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(user, token))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload credentialsPayload
	if err := decodeBody(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "Invalid credentials")
		default:
			r.logger.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(user, token))
}

func (r *Router) handleGenerate(w http.ResponseWriter, req *http.Request) {
	user, ok := userFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for generation", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "Recipe generation failed")
		return
	}
	tier := string(user.SubscriptionTier)
	var params recipe.Params
	if err := decodeBody(w, req, &params); err != nil {
		r.recordGeneration(tier, generationInvalid)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.recipes.Generate(req.Context(), user, params)
	if err != nil {
		switch {
		case errors.Is(err, recipe.ErrNoIngredients):
			r.recordGeneration(tier, generationInvalid)
			writeError(w, http.StatusBadRequest, "At least one ingredient is required")
		case errors.Is(err, recipe.ErrQuotaExceeded):
			r.recordGeneration(tier, generationDenied)
			writeSoftFailure(w, recipe.QuotaMessage)
		default:
			r.recordGeneration(tier, generationError)
			r.logger.Error("recipe generation failed", "error", err, "user_id", user.ID)
			writeError(w, http.StatusInternalServerError, "Recipe generation failed")
		}
		return
	}
	r.recordGeneration(tier, generationSuccess)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"recipe":  result.Recipe,
		"usage": map[string]any{
			"generatedThisMonth": result.Usage.Generated,
			"limit":              recipe.LimitLabel(result.Usage.Limit),
		},
	})
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	user, ok := userFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for history", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "Failed to fetch recipes")
		return
	}
	recipes, err := r.recipes.History(req.Context(), user.ID)
	if err != nil {
		r.logger.Error("history lookup failed", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "Failed to fetch recipes")
		return
	}
	if recipes == nil {
		recipes = []domain.Recipe{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "recipes": recipes})
}

func (r *Router) handleLive(w http.ResponseWriter, req *http.Request) {
	user, ok := userFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for live feed", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(user.ID, client)
	go func() {
		defer func() {
			r.hub.Unregister(user.ID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Recipe SaaS Backend is running!",
		"version": Version,
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func sessionResponse(user *domain.User, token string) map[string]any {
	return map[string]any{
		"success": true,
		"token":   token,
		"user": map[string]any{
			"id":               user.ID,
			"email":            user.Email,
			"subscriptionTier": user.SubscriptionTier,
			"recipesGenerated": user.RecipesGenerated,
		},
	}
}

func decodeBody(w http.ResponseWriter, req *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(dst)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, routeTemplate(req), status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if user, ok := userFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", user.ID, "tier", string(user.SubscriptionTier))
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeTemplate labels metrics by route pattern rather than raw path.
func routeTemplate(req *http.Request) string {
	if route := mux.CurrentRoute(req); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
