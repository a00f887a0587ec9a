package handler

import (
	"errors"
	"net/http"

	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/middleware"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/pkg/response"

	"github.com/go-playground/validator/v10"
)

type StaffHandler struct {
	auth     *service.StaffAuth
	validate *validator.Validate
}

func NewStaffHandler(auth *service.StaffAuth) *StaffHandler {
	return &StaffHandler{
		auth:     auth,
		validate: validator.New(),
	}
}

func (h *StaffHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffLoginRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	resp, err := h.auth.Login(req)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrStaffLoginDisabled):
		response.Unauthorized(w, err.Error())
		return
	case err != nil:
		writeError(w, err, "Failed to sign in")
		return
	}
	response.Success(w, resp)
}

func (h *StaffHandler) Me(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{"staff_name": middleware.GetStaffName(r)})
}
