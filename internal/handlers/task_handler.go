package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/draft"
	"github.com/taskmarket/backend/internal/lifecycle"
	"github.com/taskmarket/backend/internal/middleware"
	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/repository"
	"github.com/taskmarket/backend/internal/services"
	"github.com/taskmarket/backend/internal/storage"
)

const (
	maxTaskFormBytes = 64 << 20
	maxPhotoBytes    = 10 << 20
	maxPhotos        = 10
)

// TaskStore is the subset of repository.TaskRepo used by the task handlers.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, f repository.TaskFilter) ([]*models.Task, error)
	AddPhoto(ctx context.Context, taskID uuid.UUID, url string) (*models.TaskPhoto, error)
	ListPhotos(ctx context.Context, taskID uuid.UUID) ([]string, error)
}

type OfferLister interface {
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Offer, error)
}

// Lifecycle is implemented by *lifecycle.Controller.
type Lifecycle interface {
	Apply(ctx context.Context, taskID, offerID, caller uuid.UUID, a lifecycle.Action) (*lifecycle.Result, error)
	SubmitOffer(ctx context.Context, provider uuid.UUID, in lifecycle.OfferInput) (*models.Offer, error)
	CancelTask(ctx context.Context, taskID, caller uuid.UUID) (*models.Task, error)
	SyncTaskStatus(ctx context.Context, taskID uuid.UUID) (bool, string, error)
}

// DraftStore is implemented by *draft.RedisStore.
type DraftStore interface {
	Save(ctx context.Context, userID uuid.UUID, snap draft.Snapshot) error
	Load(ctx context.Context, userID uuid.UUID) (*draft.Snapshot, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

type Uploader interface {
	Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (*storage.Object, error)
}

// TaskHandler serves tasks, their offers and the poster's saved draft.
type TaskHandler struct {
	Tasks     TaskStore
	Offers    OfferLister
	Lifecycle Lifecycle
	Drafts    DraftStore
	Files     Uploader
	Validator *services.Validator
	Logger    *slog.Logger
	Now       func() time.Time
}

func (h *TaskHandler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *TaskHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// --- POST /api/v1/tasks ---

type createTaskResponse struct {
	Task   *models.Task        `json:"task"`
	Photos []draft.PhotoResult `json:"photos"`
}

// CreateTask takes the draft fields as a multipart form (photos under
// "photos"), walks a draft machine through every step and submits it.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTaskFormBytes)
	if err := r.ParseMultipartForm(maxTaskFormBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, `{"error":"invalid form body"}`, http.StatusBadRequest)
		return
	}

	basic, err := basicInfoFromForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "step": string(draft.StepBasicInfo)})
		return
	}
	place, err := locationDateFromForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "step": string(draft.StepLocationDate)})
		return
	}

	m := draft.New()
	for _, payload := range []any{basic, place} {
		step := m.Step()
		if err := m.Next(payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "step": string(step)})
			return
		}
	}

	uploader := &taskPhotoUploader{files: h.Files, tasks: h.Tasks}
	task, results, err := m.Submit(r.Context(), u.ID, h.Tasks, uploader)
	if err != nil {
		h.log().Error("create task failed", "user_id", u.ID, "error", err)
		http.Error(w, `{"error":"failed to create task"}`, http.StatusInternalServerError)
		return
	}
	for _, res := range results {
		if res.Err != nil {
			h.log().Warn("task photo upload failed", "task_id", task.ID, "photo", res.Name, "error", res.Err)
		}
	}
	if h.Drafts != nil {
		if err := h.Drafts.Delete(r.Context(), u.ID); err != nil {
			h.log().Warn("clear task draft failed", "user_id", u.ID, "error", err)
		}
	}

	h.log().Info("task created", "task_id", task.ID, "user_id", u.ID, "budget_cents", task.BudgetCents, "photos", len(task.Photos))
	writeJSON(w, http.StatusCreated, createTaskResponse{Task: task, Photos: results})
}

func basicInfoFromForm(r *http.Request) (draft.BasicInfo, error) {
	b := draft.BasicInfo{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Budget:      r.FormValue("budget"),
	}
	if s := strings.TrimSpace(r.FormValue("category_id")); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return b, errors.New("invalid category_id")
		}
		b.CategoryID = &id
	}
	if r.MultipartForm == nil {
		return b, nil
	}
	files := r.MultipartForm.File["photos"]
	if len(files) > maxPhotos {
		return b, fmt.Errorf("at most %d photos", maxPhotos)
	}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return b, fmt.Errorf("read photo %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes+1))
		f.Close()
		if err != nil {
			return b, fmt.Errorf("read photo %s: %w", fh.Filename, err)
		}
		if len(data) > maxPhotoBytes {
			return b, fmt.Errorf("photo %s is larger than %d bytes", fh.Filename, maxPhotoBytes)
		}
		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = http.DetectContentType(data)
		}
		b.Photos = append(b.Photos, draft.Photo{Name: fh.Filename, ContentType: ct, Data: data})
	}
	return b, nil
}

func locationDateFromForm(r *http.Request) (draft.LocationDate, error) {
	l := draft.LocationDate{Location: r.FormValue("location")}
	var err error
	if l.Latitude, err = optionalFloat(r.FormValue("latitude")); err != nil {
		return l, errors.New("invalid latitude")
	}
	if l.Longitude, err = optionalFloat(r.FormValue("longitude")); err != nil {
		return l, errors.New("invalid longitude")
	}
	if s := strings.TrimSpace(r.FormValue("due_date")); s != "" {
		if l.DueDate, err = parseDueDate(s); err != nil {
			return l, errors.New("due_date must be YYYY-MM-DD or RFC 3339")
		}
	}
	return l, nil
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// parseDueDate accepts a calendar date (read as UTC midnight) or a timestamp.
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// taskPhotoUploader stores a submitted photo in the task-photos bucket and
// records it against the task.
type taskPhotoUploader struct {
	files Uploader
	tasks TaskStore
}

func (u *taskPhotoUploader) UploadTaskPhoto(ctx context.Context, taskID uuid.UUID, p draft.Photo) (string, error) {
	if u.files == nil {
		return "", errors.New("photo storage not configured")
	}
	name := storage.ObjectName(taskID.String(), uuid.NewString()[:8], p.Name)
	obj, err := u.files.Upload(ctx, storage.BucketTaskPhotos, name, p.ContentType, bytes.NewReader(p.Data))
	if err != nil {
		return "", err
	}
	if _, err := u.tasks.AddPhoto(ctx, taskID, obj.URL); err != nil {
		return "", fmt.Errorf("record photo: %w", err)
	}
	return obj.URL, nil
}

// --- GET /api/v1/tasks ---

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.TaskFilter{Status: q.Get("status")}
	if f.Status != "" && !models.ValidTaskStatus(f.Status) {
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}
	if s := q.Get("category_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			http.Error(w, `{"error":"invalid category_id"}`, http.StatusBadRequest)
			return
		}
		f.CategoryID = &id
	}
	if s := q.Get("user_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
			return
		}
		f.UserID = &id
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	tasks, err := h.Tasks.List(r.Context(), f)
	if err != nil {
		h.log().Error("list tasks failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- GET /api/v1/tasks/{id} ---

// GetTask repairs a drifted status before reading. A failed repair is
// logged and the stored row is returned as is.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	if changed, status, err := h.Lifecycle.SyncTaskStatus(r.Context(), taskID); err != nil {
		if !errors.Is(err, lifecycle.ErrNotFound) {
			h.log().Warn("task status sync failed", "task_id", taskID, "error", err)
		}
	} else if changed {
		h.log().Info("task status synced on read", "task_id", taskID, "status", status)
	}

	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		h.log().Error("get task failed", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	photos, err := h.Tasks.ListPhotos(r.Context(), taskID)
	if err != nil {
		h.log().Warn("list task photos failed", "task_id", taskID, "error", err)
	}
	task.Photos = photos
	writeJSON(w, http.StatusOK, task)
}

// --- POST /api/v1/tasks/{id}/cancel ---

func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.Lifecycle.CancelTask(r.Context(), taskID, u.ID)
	if err != nil {
		h.writeLifecycleError(w, err, "cancel task failed", "task_id", taskID)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// writeLifecycleError maps controller sentinels onto status codes.
func (h *TaskHandler) writeLifecycleError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrDuplicateOffer):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrUnknownAction), errors.Is(err, lifecycle.ErrInvalidOffer):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.log().Error(msg, append(args, "error", err)...)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func extractTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
