package handler

import (
	"net/http"
	"time"

	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/pkg/response"

	"github.com/gorilla/mux"
)

type AppointmentHandler struct {
	book *service.AppointmentBook
	loc  *time.Location
}

func NewAppointmentHandler(book *service.AppointmentBook, loc *time.Location) *AppointmentHandler {
	return &AppointmentHandler{book: book, loc: loc}
}

func (h *AppointmentHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req domain.AppointmentRequest
	if !decode(w, r, &req) {
		return
	}

	appointment, err := h.book.Request(r.Context(), req)
	if err != nil {
		writeError(w, err, "Failed to request appointment")
		return
	}
	response.Created(w, appointment)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.book.List()
	if items == nil {
		items = []domain.Appointment{}
	}
	response.Success(w, items)
}

// ByDate lists the appointments of ?date=YYYY-MM-DD, today when omitted.
func (h *AppointmentHandler) ByDate(w http.ResponseWriter, r *http.Request) {
	day := time.Now().In(h.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := service.ParseAppointmentDate(raw, h.loc)
		if err != nil {
			response.BadRequest(w, "Invalid date")
			return
		}
		day = parsed
	}

	items, err := h.book.ListByDate(r.Context(), day)
	if err != nil {
		writeError(w, err, "Failed to list appointments")
		return
	}
	if items == nil {
		items = []domain.Appointment{}
	}
	response.Success(w, items)
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	appointmentID := mux.Vars(r)["id"]
	if appointmentID == "" {
		response.BadRequest(w, "Appointment ID is required")
		return
	}

	var req domain.UpdateAppointmentStatusRequest
	if !decode(w, r, &req) {
		return
	}

	appointment, err := h.book.UpdateStatus(r.Context(), appointmentID, req.Status)
	if err != nil {
		writeError(w, err, "Failed to update appointment")
		return
	}
	response.Success(w, appointment)
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	appointmentID := mux.Vars(r)["id"]
	if appointmentID == "" {
		response.BadRequest(w, "Appointment ID is required")
		return
	}

	if err := h.book.Delete(r.Context(), appointmentID); err != nil {
		writeError(w, err, "Failed to delete appointment")
		return
	}
	response.Success(w, map[string]string{"message": "Appointment deleted successfully"})
}
