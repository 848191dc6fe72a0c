package router

import (
	"context"
	"net/http"
	"time"

	"github.com/taskmarket/backend/internal/auth"
	"github.com/taskmarket/backend/internal/categories"
	"github.com/taskmarket/backend/internal/dashboard"
	"github.com/taskmarket/backend/internal/messaging"
	"github.com/taskmarket/backend/internal/middleware"
	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/places"
	"github.com/taskmarket/backend/internal/realtime"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups what New mounts under /api/v1.
type Handlers struct {
	Auth       *auth.Handler
	Categories *categories.Handler
	Dashboard  *dashboard.Handler
	Messaging  *messaging.Handler
	Places     *places.Handler
	Hub        *realtime.Hub
}

// New returns an http.Handler that serves the API under /api/v1. Task and
// offer routes are registered on the same mux by the caller.
func New(h Handlers, tokens middleware.TokenValidator, db Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	base := "/api/v1"
	authed := middleware.RequireAuth(tokens)
	provider := func(next http.HandlerFunc) http.Handler {
		return authed(middleware.RequireRole(models.RoleProvider)(next))
	}
	protect := func(next http.HandlerFunc) http.Handler { return authed(next) }

	mux.HandleFunc("GET /healthz", healthz(db))

	mux.HandleFunc("POST "+base+"/auth/register", h.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)
	mux.Handle("GET "+base+"/auth/session", protect(h.Auth.Session))

	mux.HandleFunc("GET "+base+"/categories", h.Categories.ListCategories)
	mux.Handle("POST "+base+"/categories", protect(h.Categories.CreateCategory))

	mux.Handle("GET "+base+"/me/profile", protect(h.Dashboard.GetProfile))
	mux.Handle("PATCH "+base+"/me/profile", protect(h.Dashboard.UpdateProfile))
	mux.Handle("POST "+base+"/me/avatar", protect(h.Dashboard.UploadAvatar))
	mux.Handle("GET "+base+"/me/tasks", protect(h.Dashboard.ListMyTasks))
	mux.Handle("GET "+base+"/me/offers", provider(h.Dashboard.ListMyOffers))
	mux.Handle("GET "+base+"/me/earnings", provider(h.Dashboard.ListEarnings))
	mux.Handle("GET "+base+"/me/wallet-transactions", provider(h.Dashboard.ListWalletTransactions))
	// Auth -> Role -> AmountCheck -> Withdraw
	mux.Handle("POST "+base+"/me/withdrawals", authed(middleware.RequireRole(models.RoleProvider)(
		middleware.AmountCheck("amount")(http.HandlerFunc(h.Dashboard.Withdraw)))))

	mux.Handle("POST "+base+"/messages", protect(h.Messaging.Send))
	mux.Handle("GET "+base+"/messages/threads", protect(h.Messaging.Threads))
	mux.Handle("GET "+base+"/messages/conversations/{userID}", protect(h.Messaging.Conversation))
	mux.Handle("POST "+base+"/messages/read", protect(h.Messaging.MarkRead))
	mux.Handle("GET "+base+"/messages/unread-count", protect(h.Messaging.UnreadCount))
	mux.Handle("GET "+base+"/messages/stream", protect(h.Hub.Stream))

	mux.HandleFunc("GET "+base+"/places/autocomplete", h.Places.Autocomplete)
	mux.HandleFunc("GET "+base+"/places/geocode", h.Places.Geocode)

	return mux
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
