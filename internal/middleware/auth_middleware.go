package middleware

import (
	"context"
	"net/http"
	"strings"

	"eyeworks-storefront/pkg/jwt"
	"eyeworks-storefront/pkg/response"
)

type contextKey string

const (
	StaffNameKey   contextKey = "staffName"
	SessionIDKey   contextKey = "sessionID"
	StorageKey     contextKey = "sessionStorage"
	requestInfoKey contextKey = "requestInfo"
)

// BearerToken reads the token from the Authorization header, falling back
// to the token query parameter used by browser websocket clients.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func withStaff(r *http.Request, name string) *http.Request {
	if info := infoFrom(r.Context()); info != nil {
		info.staff = name
	}
	return r.WithContext(context.WithValue(r.Context(), StaffNameKey, name))
}

// StaffAuthMiddleware rejects requests without a valid staff token.
func StaffAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, withStaff(r, claims.StaffName))
		})
	}
}

// OptionalStaffMiddleware records the staff name when a valid token is
// present and lets every request through.
func OptionalStaffMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := BearerToken(r); token != "" {
				if claims, err := jwt.ValidateToken(token, jwtSecret); err == nil {
					r = withStaff(r, claims.StaffName)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetStaffName(r *http.Request) string {
	name, ok := r.Context().Value(StaffNameKey).(string)
	if !ok {
		return ""
	}
	return name
}
