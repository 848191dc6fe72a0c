package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/lifecycle"
	"github.com/taskmarket/backend/internal/middleware"
	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/money"
	"github.com/taskmarket/backend/internal/services"
)

type submitOfferRequest struct {
	Amount               json.RawMessage `json:"amount"`
	NetAmount            json.RawMessage `json:"net_amount"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date"`
	Message              string          `json:"message"`
}

// --- POST /api/v1/tasks/{id}/offers ---

// SubmitOffer runs behind AmountCheck("amount"), which has already parsed
// and bounded the amount.
func (h *TaskHandler) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, `{"error":"read body failed"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.Validate(services.SchemaOffer, body); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.log().Error("offer validation error", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	var req submitOfferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	netCents, err := optionalCents(req.NetAmount)
	if err != nil {
		http.Error(w, `{"error":"net_amount must be a positive amount"}`, http.StatusBadRequest)
		return
	}

	offer, err := h.Lifecycle.SubmitOffer(r.Context(), u.ID, lifecycle.OfferInput{
		TaskID:               taskID,
		AmountCents:          middleware.AmountFromCtx(r.Context()),
		NetAmountCents:       netCents,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		Message:              req.Message,
	})
	if err != nil {
		h.writeLifecycleError(w, err, "submit offer failed", "task_id", taskID, "provider_id", u.ID)
		return
	}
	h.log().Info("offer submitted", "task_id", taskID, "offer_id", offer.ID, "provider_id", u.ID, "amount_cents", offer.AmountCents)
	writeJSON(w, http.StatusCreated, offer)
}

// optionalCents parses a money value given as a JSON string or number.
// Absent and null both mean no value.
func optionalCents(raw json.RawMessage) (*int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	c, err := money.ParseCents(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// --- GET /api/v1/tasks/{id}/offers?sort=auto|cheapest|fastest ---

func (h *TaskHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}
	offers, err := h.Offers.ListByTask(r.Context(), taskID)
	if err != nil {
		h.log().Error("list offers failed", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	ranked := services.RankOffers(offers, r.URL.Query().Get("sort"), h.now())
	if ranked == nil {
		ranked = []*models.Offer{}
	}
	writeJSON(w, http.StatusOK, ranked)
}

// --- POST /api/v1/tasks/{id}/offers/{offerID}/{action} ---

// OfferAction applies accept, reject, mark_work_done or approve.
func (h *TaskHandler) OfferAction(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}
	offerID, err := uuid.Parse(r.PathValue("offerID"))
	if err != nil {
		http.Error(w, `{"error":"invalid offer id"}`, http.StatusBadRequest)
		return
	}
	action, err := lifecycle.ParseAction(r.PathValue("action"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := h.Lifecycle.Apply(r.Context(), taskID, offerID, u.ID, action)
	if err != nil {
		h.writeLifecycleError(w, err, "offer action failed", "task_id", taskID, "offer_id", offerID, "action", string(action))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
