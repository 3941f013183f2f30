// Package server implements the Accordo HTTP API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/accordo-ai/accordo/internal/auth"
	"github.com/accordo-ai/accordo/internal/model"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyClaims    contextKey = "claims"
)

// RequestIDFromContext returns the request ID assigned by the middleware, or
// "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyRequestID).(string)
	return v
}

// ClaimsFromContext returns the validated JWT claims, or nil on
// unauthenticated paths.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	v, _ := ctx.Value(contextKeyClaims).(*auth.Claims)
	return v
}

// requestIDMiddleware tags every request with an ID, honoring a caller-supplied
// X-Request-ID so upstream systems can correlate.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware emits one structured line per request. 4xx logs at Warn,
// 5xx at Error.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			attrs = append(attrs, "trace_id", sc.TraceID().String())
		}
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			attrs = append(attrs, "caller", claims.Caller)
		}

		level := slog.LevelInfo
		switch {
		case sw.statusCode >= 500:
			level = slog.LevelError
		case sw.statusCode >= 400:
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request", attrs...)
	})
}

var tracer = otel.Tracer("accordo/http")

// tracingMiddleware opens a server span per request and records request count
// and latency. Instruments are created once; creation failure disables the
// affected metric rather than the handler.
func tracingMiddleware(next http.Handler) http.Handler {
	meter := otel.GetMeterProvider().Meter("accordo/http")
	requests, _ := meter.Int64Counter("http.server.request_count")
	latency, _ := meter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", sw.statusCode))

		attrs := otelmetric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.status_code", strconv.Itoa(sw.statusCode)),
		)
		if requests != nil {
			requests.Add(ctx, 1, attrs)
		}
		if latency != nil {
			latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		}
	})
}

// authMiddleware enforces bearer-token auth on everything but /health.
func authMiddleware(jwtMgr *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token, errMsg := bearerToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, errMsg)
			return
		}
		claims, err := jwtMgr.ValidateToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken pulls the token out of the Authorization header. The second
// return value describes what was wrong when no token is found.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", "invalid authorization format"
	}
	return token, ""
}

// recoveryMiddleware turns handler panics into 500 envelopes so one bad
// request cannot take the process down.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"panic", rec, "path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()))
				writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: responseMeta(r),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta:  responseMeta(r),
	})
}

func responseMeta(r *http.Request) model.ResponseMeta {
	return model.ResponseMeta{
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
}

// decodeJSON decodes a request body strictly: unknown fields are rejected so
// client typos surface as 400s instead of silently dropped options.
func decodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
