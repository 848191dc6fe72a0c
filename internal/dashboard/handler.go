// Package dashboard serves the signed-in user's own data: profile, avatar,
// tasks, offers, earnings and withdrawals.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/ledger"
	"github.com/taskmarket/backend/internal/middleware"
	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/repository"
	"github.com/taskmarket/backend/internal/services"
	"github.com/taskmarket/backend/internal/storage"
)

const maxAvatarBytes = 5 << 20

type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, fullName, avatarURL string) error
}

type TaskLister interface {
	List(ctx context.Context, f repository.TaskFilter) ([]*models.Task, error)
}

type OfferLister interface {
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Offer, error)
}

type Ledger interface {
	ListEarnings(ctx context.Context, providerID uuid.UUID) ([]*models.ProviderEarning, error)
	ListWalletTransactions(ctx context.Context, providerID uuid.UUID) ([]*models.WalletTransaction, error)
	Withdraw(ctx context.Context, providerID uuid.UUID, amountCents int64) (*models.WalletTransaction, error)
}

type Uploader interface {
	Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (*storage.Object, error)
}

type Handler struct {
	profiles  ProfileStore
	tasks     TaskLister
	offers    OfferLister
	ledger    Ledger
	files     Uploader
	validator *services.Validator
	log       *slog.Logger
}

func NewHandler(
	profiles ProfileStore,
	tasks TaskLister,
	offers OfferLister,
	ledger Ledger,
	files Uploader,
	validator *services.Validator,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		profiles:  profiles,
		tasks:     tasks,
		offers:    offers,
		ledger:    ledger,
		files:     files,
		validator: validator,
		log:       log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/me/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	p, err := h.profiles.GetByID(r.Context(), u.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"profile not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get profile failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PATCH /api/v1/me/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, `{"error":"read body failed"}`, http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(services.SchemaProfile, body); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("profile validation error", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	var req struct {
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	p, err := h.profiles.GetByID(r.Context(), u.ID)
	if err != nil {
		h.log.Error("get profile failed", "error", err)
		http.Error(w, `{"error":"profile not found"}`, http.StatusNotFound)
		return
	}
	p.FullName = strings.TrimSpace(req.FullName)
	if err := h.profiles.UpdateDetails(r.Context(), p.ID, p.FullName, p.AvatarURL); err != nil {
		h.log.Error("update profile failed", "error", err)
		http.Error(w, `{"error":"update failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /api/v1/me/avatar (multipart, field "avatar")
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+1<<16)
	f, fh, err := r.FormFile("avatar")
	if err != nil {
		http.Error(w, `{"error":"avatar file is required"}`, http.StatusBadRequest)
		return
	}
	defer f.Close()
	ct := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		http.Error(w, `{"error":"avatar must be an image"}`, http.StatusBadRequest)
		return
	}
	p, err := h.profiles.GetByID(r.Context(), u.ID)
	if err != nil {
		http.Error(w, `{"error":"profile not found"}`, http.StatusNotFound)
		return
	}

	name := storage.ObjectName(u.ID.String(), uuid.NewString()[:8], fh.Filename)
	obj, err := h.files.Upload(r.Context(), storage.BucketAvatars, name, ct, io.LimitReader(f, maxAvatarBytes))
	if err != nil {
		h.log.Error("avatar upload failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"avatar upload failed"}`, http.StatusInternalServerError)
		return
	}
	p.AvatarURL = obj.URL
	if err := h.profiles.UpdateDetails(r.Context(), p.ID, p.FullName, p.AvatarURL); err != nil {
		h.log.Error("update avatar failed", "error", err)
		http.Error(w, `{"error":"update failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/v1/me/tasks
func (h *Handler) ListMyTasks(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	tasks, err := h.tasks.List(r.Context(), repository.TaskFilter{UserID: &u.ID, Status: r.URL.Query().Get("status")})
	if err != nil {
		h.log.Error("list my tasks failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GET /api/v1/me/offers
func (h *Handler) ListMyOffers(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	offers, err := h.offers.ListByProvider(r.Context(), u.ID)
	if err != nil {
		h.log.Error("list my offers failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if offers == nil {
		offers = []*models.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

// GET /api/v1/me/earnings
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.ledger.ListEarnings(r.Context(), u.ID)
	if err != nil {
		h.log.Error("list earnings failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.ProviderEarning{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/me/wallet-transactions
func (h *Handler) ListWalletTransactions(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.ledger.ListWalletTransactions(r.Context(), u.ID)
	if err != nil {
		h.log.Error("list wallet transactions failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// POST /api/v1/me/withdrawals. Runs behind AmountCheck("amount").
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, `{"error":"read body failed"}`, http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(services.SchemaWithdrawal, body); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("withdrawal validation error", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	wt, err := h.ledger.Withdraw(r.Context(), u.ID, middleware.AmountFromCtx(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			http.Error(w, `{"error":"insufficient funds"}`, http.StatusPaymentRequired)
		case errors.Is(err, ledger.ErrInvalidAmount):
			http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		default:
			h.log.Error("withdraw failed", "provider_id", u.ID, "error", err)
			http.Error(w, `{"error":"withdrawal failed"}`, http.StatusInternalServerError)
		}
		return
	}
	h.log.Info("withdrawal requested", "provider_id", u.ID, "amount_cents", wt.AmountCents)
	writeJSON(w, http.StatusCreated, wt)
}
