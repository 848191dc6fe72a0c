package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/taskmarket/backend/internal/draft"
	"github.com/taskmarket/backend/internal/middleware"
)

// --- GET /api/v1/task-drafts ---

// GetDraft returns the caller's saved draft. The step is re-derived on
// load, so a draft whose due date has since passed resumes at location-date.
func (h *TaskHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	snap, err := h.Drafts.Load(r.Context(), u.ID)
	if err != nil {
		if errors.Is(err, draft.ErrNoDraft) {
			http.Error(w, `{"error":"no saved draft"}`, http.StatusNotFound)
			return
		}
		h.log().Error("load draft failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	m, err := draft.Restore(*snap)
	if err != nil {
		h.log().Warn("discarding unrestorable draft", "user_id", u.ID, "step", snap.Step, "error", err)
		_ = h.Drafts.Delete(r.Context(), u.ID)
		http.Error(w, `{"error":"no saved draft"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// --- PUT /api/v1/task-drafts ---

func (h *TaskHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var snap draft.Snapshot
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&snap); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if snap.Step == "" {
		snap.Step = draft.StepBasicInfo
	}
	m, err := draft.Restore(snap)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	saved := m.Snapshot()
	if err := h.Drafts.Save(r.Context(), u.ID, saved); err != nil {
		h.log().Error("save draft failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// --- DELETE /api/v1/task-drafts ---

func (h *TaskHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if err := h.Drafts.Delete(r.Context(), u.ID); err != nil {
		h.log().Error("delete draft failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
