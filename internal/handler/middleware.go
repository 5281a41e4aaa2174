package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"keyless-recovery/internal/audit"
	"keyless-recovery/internal/models"
	"keyless-recovery/internal/token"
	"keyless-recovery/internal/util"
)

const (
	HeaderSessionID     = "X-Session-Id"
	HeaderPhone         = "X-Phone"
	HeaderWalletAddress = "X-Wallet-Address"
)

var errMissingToken = errors.New("missing bearer token")

type ctxKey int

const (
	clientClaimsKey ctxKey = iota
	sessionKey
)

type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (*models.Session, error)
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// clientIP stores the caller address for security events. It runs after
// middleware.RealIP.
func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(audit.WithClientIP(r.Context(), ip)))
	})
}

// ClientTokenGuard requires a bearer token with a clientId claim. When
// required is false a missing token is let through but a bad one is not.
func ClientTokenGuard(verifier TokenVerifier, required bool, auditor audit.Recorder, logger *zap.Logger) func(http.Handler) http.Handler {
	h := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				h.respondWithError(w, http.StatusUnauthorized, errMissingToken, "Unauthorized")
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				auditor.Record(r.Context(), &models.SecurityEvent{
					EventType: models.EventClientTokenRejected,
					Details:   err.Error(),
				})
				h.respondWithError(w, http.StatusUnauthorized, err, "Unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), clientClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionGuard loads the session named by the X-Session-Id header.
func SessionGuard(sessions SessionValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	h := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := sessions.Validate(r.Context(), r.Header.Get(HeaderSessionID))
			if err != nil {
				h.respondWithServiceError(w, err, "Unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientClaims returns the verified client token claims, if any.
func ClientClaims(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(clientClaimsKey).(*token.Claims)
	return claims, ok
}

// SessionFromContext returns the session loaded by SessionGuard.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(sessionKey).(*models.Session)
	return session, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
