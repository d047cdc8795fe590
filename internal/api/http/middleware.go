package http

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/security"
	"equiprent-backend/internal/service"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	actingUserKey contextKey = "acting_user"
)

const RequestIDHeader = "X-Request-Id"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rental",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rental",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RequestIDFrom returns the request ID assigned by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ActingUserFrom returns the user the authenticated credential acts for.
func ActingUserFrom(ctx context.Context) string {
	user, _ := ctx.Value(actingUserKey).(string)
	return user
}

// RequestID keeps a caller supplied X-Request-Id or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// routeLabel uses the route template so IDs do not explode metric cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Observe logs each request and records its metrics.
func Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		logger.InfoContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", RequestIDFrom(r.Context()))
	})
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Panic recovered", "panic", rec, "path", r.URL.Path, "stack", string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware accepts either an X-Api-Key header or a bearer token issued by /auth/token.
type AuthMiddleware struct {
	auth   service.AuthService
	tokens security.TokenManager
}

func NewAuthMiddleware(auth service.AuthService, tokens security.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, tokens: tokens}
}

func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.identify(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) identify(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if raw := r.Header.Get("X-Api-Key"); raw != "" {
		key, err := m.auth.Authenticate(ctx, raw)
		if err != nil {
			return nil, err
		}
		return context.WithValue(ctx, actingUserKey, key.ActingUser), nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, unauthorized("Authorization header or X-Api-Key required.")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, unauthorized("Invalid authorization format.")
	}
	claims, err := m.tokens.ValidateToken(token)
	if err != nil {
		logger.Debug("Bearer token rejected", "error", err)
		return nil, unauthorized("Invalid or expired token.")
	}
	logger.Debug("Bearer token accepted", "key_id", claims.KeyID)
	return context.WithValue(ctx, actingUserKey, claims.ActingUser), nil
}

func unauthorized(msg string) error {
	return domain.NewUserError("UNAUTHORIZED", domain.ErrUnauthorized, "%s", msg)
}
