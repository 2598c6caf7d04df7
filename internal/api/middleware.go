package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/telemetry"
)

// logRequests records one structured line per request and feeds the
// request metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		telemetry.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)
		s.logger.Info("request",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed))
	})
}

// recoverPanics converts panics into 500 envelopes. Outside development
// the panic detail is replaced with a generic message.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				msg := "Internal server error"
				if s.opts.Development {
					msg = fmt.Sprintf("panic: %v", rec)
				}
				s.writeError(w, http.StatusInternalServerError, "", msg)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsHeaders echoes an allow-listed origin back, falling back to the
// first configured origin for everything else. Preflights short-circuit
// with 204.
func (s *Server) corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.opts.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			allowed := s.opts.AllowedOrigins[0]
			for _, o := range s.opts.AllowedOrigins {
				if o == origin {
					allowed = origin
					break
				}
			}
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Webhook-Signature")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the fixed-window limiter. Health and metrics are
// mounted outside this group, so everything passing through is limited.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.RateLimitEnabled || s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision := s.limiter.Check(r.Context(), s.limiter.ClientID(r), r.URL.Path)
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auditMutations emits an audit record for every mutating request and for
// any admin access, successful or not. Emission never blocks the request.
func (s *Server) auditMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if r.Method == http.MethodGet && !strings.HasPrefix(r.URL.Path, "/api/admin") {
			return
		}
		id, err := s.ids.NewID()
		if err != nil {
			s.logger.Warn("audit id generation failed", zap.Error(err))
			return
		}
		s.auditor.Emit(cms.AuditRecord{
			ID:        id,
			Actor:     s.clientID(r),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    ww.Status(),
			CreatedAt: s.clock.Now(),
		})
	})
}

func (s *Server) clientID(r *http.Request) string {
	if s.limiter != nil {
		return s.limiter.ClientID(r)
	}
	return r.RemoteAddr
}

// requireJWT validates a bearer token against the configured secret. With
// no secret configured the admin API stays open, matching the degraded
// deployments this service supports.
func (s *Server) requireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.opts.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
