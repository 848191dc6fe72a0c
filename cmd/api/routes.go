package main

import (
	"net/http"

	"github.com/taskmarket/backend/internal/handlers"
	"github.com/taskmarket/backend/internal/middleware"
	"github.com/taskmarket/backend/internal/models"
)

// RegisterTaskRoutes adds the task, offer and draft endpoints to the given mux.
// Middleware chain: RequireAuth -> RequireRole (where the role is fixed) ->
// AmountCheck (offer submission only) -> handler. Ownership checks for
// offer actions happen inside the lifecycle controller.
func RegisterTaskRoutes(mux *http.ServeMux, th *handlers.TaskHandler, tokens middleware.TokenValidator) {
	auth := middleware.RequireAuth(tokens)
	poster := middleware.RequireRole(models.RolePoster)
	provider := middleware.RequireRole(models.RoleProvider)

	// Browsing is public.
	mux.HandleFunc("GET /api/v1/tasks", th.ListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", th.GetTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}/offers", th.ListOffers)

	// POST /api/v1/tasks: Auth -> Poster -> CreateTask (multipart)
	mux.Handle("POST /api/v1/tasks", auth(poster(http.HandlerFunc(th.CreateTask))))
	mux.Handle("POST /api/v1/tasks/{id}/cancel", auth(poster(http.HandlerFunc(th.CancelTask))))

	// POST /api/v1/tasks/{id}/offers: Auth -> Provider -> AmountCheck -> SubmitOffer
	mux.Handle("POST /api/v1/tasks/{id}/offers",
		auth(provider(middleware.AmountCheck("amount")(http.HandlerFunc(th.SubmitOffer)))))

	// accept | reject | approve by the poster, mark_work_done by the provider
	mux.Handle("POST /api/v1/tasks/{id}/offers/{offerID}/{action}", auth(http.HandlerFunc(th.OfferAction)))

	mux.Handle("GET /api/v1/task-drafts", auth(poster(http.HandlerFunc(th.GetDraft))))
	mux.Handle("PUT /api/v1/task-drafts", auth(poster(http.HandlerFunc(th.SaveDraft))))
	mux.Handle("DELETE /api/v1/task-drafts", auth(poster(http.HandlerFunc(th.DeleteDraft))))
}
