package handler

import (
	"net/http"

	"eyeworks-storefront/internal/middleware"
	"eyeworks-storefront/internal/session"
	"eyeworks-storefront/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type SessionHandler struct {
	validate *validator.Validate
}

func NewSessionHandler() *SessionHandler {
	return &SessionHandler{validate: validator.New()}
}

type sessionResponse struct {
	SessionID string   `json:"session_id"`
	UserName  string   `json:"user_name,omitempty"`
	Wishlist  []string `json:"wishlist"`
}

type updateNameRequest struct {
	UserName string `json:"user_name" validate:"max=80"`
}

type wishlistResponse struct {
	ProductID string   `json:"product_id"`
	Saved     bool     `json:"saved"`
	Wishlist  []string `json:"wishlist"`
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile := session.NewProfile(middleware.GetStorage(r))
	response.Success(w, sessionResponse{
		SessionID: middleware.GetSessionID(r),
		UserName:  profile.UserName(),
		Wishlist:  profile.Wishlist(),
	})
}

func (h *SessionHandler) UpdateName(w http.ResponseWriter, r *http.Request) {
	var req updateNameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	profile := session.NewProfile(middleware.GetStorage(r))
	if err := profile.SetUserName(req.UserName); err != nil {
		response.InternalError(w, "Failed to save name")
		return
	}
	response.Success(w, sessionResponse{
		SessionID: middleware.GetSessionID(r),
		UserName:  profile.UserName(),
		Wishlist:  profile.Wishlist(),
	})
}

func (h *SessionHandler) Wishlist(w http.ResponseWriter, r *http.Request) {
	response.Success(w, session.NewProfile(middleware.GetStorage(r)).Wishlist())
}

func (h *SessionHandler) ToggleWishlist(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]
	if productID == "" {
		response.BadRequest(w, "Product ID is required")
		return
	}

	profile := session.NewProfile(middleware.GetStorage(r))
	saved, err := profile.ToggleWishlist(productID)
	if err != nil {
		response.InternalError(w, "Failed to update wishlist")
		return
	}
	response.Success(w, wishlistResponse{
		ProductID: productID,
		Saved:     saved,
		Wishlist:  profile.Wishlist(),
	})
}
