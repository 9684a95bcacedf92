package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/server/auth"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// UserIDFromContext returns the authenticated user id set by authenticate.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// authenticate verifies the bearer JWT, makes sure the user row exists and
// stores the user id in the request context.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return makeMiddleware(s, func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return nil, newHTTPError(http.StatusUnauthorized, "missing token", common.ErrorUnauthorized)
		}

		userID, err := auth.GetUserIDFromToken(strings.TrimSpace(token), s.jwtSecret)
		if err != nil {
			return nil, err
		}

		if err := s.users.EnsureUser(r.Context(), userID); err != nil {
			return nil, err
		}

		return r.WithContext(context.WithValue(r.Context(), userIDKey, userID)), nil
	}, next)
}

// makeMiddleware runs fn before next; an error ends the request the same
// way an appHandler error does.
func makeMiddleware(s *HTTPServer, fn func(w http.ResponseWriter, r *http.Request) (*http.Request, error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var nr *http.Request
		makeHandler(s.logger, func(w http.ResponseWriter, r *http.Request) error {
			var err error
			nr, err = fn(w, r)
			return err
		})(w, r)
		if nr != nil {
			next.ServeHTTP(w, nr)
		}
	})
}

// accessLog logs one line per request through the server's logger.
func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			s.logger.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
