package handler

import (
	"encoding/json"
	"net/http"

	"eyeworks-storefront/internal/config"
	"eyeworks-storefront/internal/middleware"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/internal/session"
	"eyeworks-storefront/internal/websocket"

	"github.com/gorilla/mux"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Config       *config.Config
	Catalog      *service.Catalog
	Appointments *service.AppointmentBook
	Chat         *service.ChatService
	Broker       *realtime.Broker
	ChatHub      *websocket.Manager
	ChangeHub    *websocket.Manager
	Sessions     *session.Provider
	StaffAuth    *service.StaffAuth
	Health       func() map[string]bool
}

func NewRouter(d Deps) *mux.Router {
	cfg := d.Config
	cookieCfg := session.CookieConfig{MaxAge: cfg.Session.MaxAge, Secure: cfg.Session.Secure}

	catalogHandler := NewCatalogHandler(d.Catalog)
	sessionHandler := NewSessionHandler()
	appointmentHandler := NewAppointmentHandler(d.Appointments, cfg.Store.Timezone)
	chatHandler := NewChatHandler(d.Chat, d.ChatHub)
	staffHandler := NewStaffHandler(d.StaffAuth)
	chatSocket := NewChatSocketHandler(d.ChatHub, d.Chat, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)
	changeSocket := NewChangeSocketHandler(d.ChangeHub, d.Broker, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)
	d.ChatHub.SetMessageHandler(chatSocket)
	d.ChangeHub.SetMessageHandler(changeSocket)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.CORS))

	r.HandleFunc("/health", healthHandler(d.Health)).Methods("GET")

	visitor := r.PathPrefix("").Subrouter()
	visitor.Use(middleware.SessionMiddleware(d.Sessions, cookieCfg))
	visitor.Use(middleware.OptionalStaffMiddleware(cfg.Staff.Secret))

	visitor.HandleFunc("/ws/chat", chatSocket.HandleConnection)
	visitor.HandleFunc("/ws/changes", changeSocket.HandleConnection)

	api := visitor.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/products", catalogHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/products/{id}", catalogHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/categories", catalogHandler.Categories).Methods("GET", "OPTIONS")

	api.HandleFunc("/session", sessionHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/session/name", sessionHandler.UpdateName).Methods("PUT", "OPTIONS")
	api.HandleFunc("/wishlist", sessionHandler.Wishlist).Methods("GET", "OPTIONS")
	api.HandleFunc("/wishlist/{productId}", sessionHandler.ToggleWishlist).Methods("POST", "OPTIONS")

	api.HandleFunc("/appointments", appointmentHandler.Request).Methods("POST", "OPTIONS")

	api.HandleFunc("/chat/session", chatHandler.StartSession).Methods("POST", "OPTIONS")
	api.HandleFunc("/chat/messages", chatHandler.History).Methods("GET", "OPTIONS")
	api.HandleFunc("/chat/messages", chatHandler.Send).Methods("POST", "OPTIONS")
	api.HandleFunc("/chat/read", chatHandler.MarkRead).Methods("POST", "OPTIONS")

	api.HandleFunc("/staff/login", staffHandler.Login).Methods("POST", "OPTIONS")

	staff := api.PathPrefix("").Subrouter()
	staff.Use(middleware.StaffAuthMiddleware(cfg.Staff.Secret))

	staff.HandleFunc("/staff/me", staffHandler.Me).Methods("GET", "OPTIONS")

	staff.HandleFunc("/appointments", appointmentHandler.List).Methods("GET", "OPTIONS")
	staff.HandleFunc("/appointments/by-date", appointmentHandler.ByDate).Methods("GET", "OPTIONS")
	staff.HandleFunc("/appointments/{id}/status", appointmentHandler.UpdateStatus).Methods("PATCH", "OPTIONS")
	staff.HandleFunc("/appointments/{id}", appointmentHandler.Delete).Methods("DELETE", "OPTIONS")

	staff.HandleFunc("/chat/sessions", chatHandler.ListSessions).Methods("GET", "OPTIONS")
	staff.HandleFunc("/chat/sessions/{sessionId}/messages", chatHandler.SessionHistory).Methods("GET", "OPTIONS")
	staff.HandleFunc("/chat/sessions/{sessionId}/messages", chatHandler.StaffSend).Methods("POST", "OPTIONS")
	staff.HandleFunc("/chat/sessions/{sessionId}/close", chatHandler.CloseSession).Methods("POST", "OPTIONS")

	staff.HandleFunc("/admin/products", catalogHandler.Submit).Methods("POST", "OPTIONS")

	return r
}

func healthHandler(feeds func() map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "healthy", "service": "eyeworks-storefront"}
		if feeds != nil {
			body["feeds"] = feeds()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(body)
	}
}
