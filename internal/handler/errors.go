package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"eyeworks-storefront/internal/repository"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/pkg/response"

	"github.com/rs/zerolog/log"
)

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return false
	}
	return true
}

// writeError maps service and repository errors to responses. Anything
// unrecognised is logged and reported as a 500 carrying fallback.
func writeError(w http.ResponseWriter, err error, fallback string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		response.ValidationFailed(w, verr.Fields)
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrNoSession):
		response.BadRequest(w, err.Error())
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrAppointmentNotFound),
		errors.Is(err, repository.ErrProductNotFound):
		response.NotFound(w, err.Error())
	default:
		log.Error().Err(err).Msg(fallback)
		response.InternalError(w, fallback)
	}
}
