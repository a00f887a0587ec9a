package middleware

import (
	"context"
	"net/http"

	"eyeworks-storefront/internal/session"
	"eyeworks-storefront/pkg/response"

	"github.com/rs/zerolog/log"
)

// SessionMiddleware resolves the visitor's session id from cookies, minting
// one when missing or invalid, and exposes it with the cookie storage.
func SessionMiddleware(provider *session.Provider, cfg session.CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			st := session.NewCookieStorage(w, r, cfg)
			id, err := provider.SessionID(st)
			if err != nil {
				log.Error().Err(err).Msg("failed to resolve session")
				response.InternalError(w, "Failed to resolve session")
				return
			}
			if info := infoFrom(r.Context()); info != nil {
				info.sessionID = id
			}

			ctx := context.WithValue(r.Context(), SessionIDKey, id)
			ctx = context.WithValue(ctx, StorageKey, session.Storage(st))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetSessionID(r *http.Request) string {
	id, ok := r.Context().Value(SessionIDKey).(string)
	if !ok {
		return ""
	}
	return id
}

// GetStorage returns the request's session storage, or an empty in-memory
// one outside SessionMiddleware.
func GetStorage(r *http.Request) session.Storage {
	st, ok := r.Context().Value(StorageKey).(session.Storage)
	if !ok {
		return session.NewMemoryStorage()
	}
	return st
}
