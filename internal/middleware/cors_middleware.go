package middleware

import (
	"net/http"

	"eyeworks-storefront/internal/config"

	"github.com/go-chi/cors"
)

func CORSMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	origins := config.SplitList(cfg.AllowedOrigins)
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: config.SplitList(cfg.AllowedMethods),
		AllowedHeaders: config.SplitList(cfg.AllowedHeaders),
		// The session cookie must travel cross-origin, which browsers refuse
		// together with a wildcard origin.
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if wildcard {
				return true
			}
			for _, o := range origins {
				if o == origin {
					return true
				}
			}
			return false
		},
		AllowCredentials: true,
		MaxAge:           3600,
	})
}
