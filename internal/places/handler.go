package places

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Handler struct {
	client *Client
}

func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// Autocomplete handles GET /api/v1/places/autocomplete?input=.
func (h *Handler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.Autocomplete(r.Context(), r.URL.Query().Get("input")))
}

// Geocode handles GET /api/v1/places/geocode?address=.
func (h *Handler) Geocode(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, `{"error":"address is required"}`, http.StatusBadRequest)
		return
	}
	res, err := h.client.Geocode(r.Context(), address)
	if err != nil {
		if errors.Is(err, ErrNoResults) {
			http.Error(w, `{"error":"no matching place"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"geocode failed"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
