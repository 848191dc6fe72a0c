package messaging

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/middleware"
	"github.com/taskmarket/backend/internal/services"
	"github.com/taskmarket/backend/internal/storage"
)

const maxMultipartMemory = 32 << 20

type SendMessageRequest struct {
	ReceiverID string  `json:"receiver_id"`
	TaskID     *string `json:"task_id"`
	Content    string  `json:"content"`
}

type MarkReadRequest struct {
	SenderID string     `json:"sender_id"`
	TaskID   *string    `json:"task_id"`
	UpTo     *time.Time `json:"up_to"`
}

type Handler struct {
	svc       *Service
	validator *services.Validator
	log       *slog.Logger
}

func NewHandler(svc *Service, validator *services.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

// Send handles POST /api/v1/messages. JSON bodies carry text only;
// multipart bodies may add files under "attachments".
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var (
		req         SendMessageRequest
		attachments []Attachment
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			http.Error(w, `{"error":"invalid multipart body"}`, http.StatusBadRequest)
			return
		}
		req.ReceiverID = r.FormValue("receiver_id")
		req.Content = r.FormValue("content")
		if v := r.FormValue("task_id"); v != "" {
			req.TaskID = &v
		}
		for _, fh := range r.MultipartForm.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, `{"error":"invalid attachment"}`, http.StatusBadRequest)
				return
			}
			defer f.Close()
			attachments = append(attachments, Attachment{
				FileName: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f,
			})
		}
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, `{"error":"read body failed"}`, http.StatusBadRequest)
			return
		}
		if err := h.validator.Validate(services.SchemaMessage, body); err != nil {
			if errors.Is(err, services.ErrValidation) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
				return
			}
			h.log.Error("message validation error", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
	}

	receiver, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		http.Error(w, `{"error":"invalid receiver_id"}`, http.StatusBadRequest)
		return
	}
	taskID, ok := optionalUUID(req.TaskID)
	if !ok {
		http.Error(w, `{"error":"invalid task_id"}`, http.StatusBadRequest)
		return
	}

	m, err := h.svc.Send(r.Context(), SendInput{
		SenderID: u.ID, ReceiverID: receiver, TaskID: taskID, Content: req.Content, Attachments: attachments,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidAttachment),
			errors.Is(err, storage.ErrTooLarge), errors.Is(err, storage.ErrInvalidName):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			h.log.Error("send message failed", "error", err)
			http.Error(w, `{"error":"send message failed"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) Threads(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	threads, err := h.svc.Threads(r.Context(), u.ID)
	if err != nil {
		h.log.Error("list threads failed", "error", err)
		http.Error(w, `{"error":"list threads failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// Conversation handles GET /api/v1/messages/conversations/{userID}?task_id=.
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	counterpart, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
		return
	}
	var raw *string
	if v := r.URL.Query().Get("task_id"); v != "" {
		raw = &v
	}
	taskID, ok := optionalUUID(raw)
	if !ok {
		http.Error(w, `{"error":"invalid task_id"}`, http.StatusBadRequest)
		return
	}
	msgs, err := h.svc.Conversation(r.Context(), u.ID, counterpart, taskID)
	if err != nil {
		h.log.Error("load conversation failed", "error", err)
		http.Error(w, `{"error":"load conversation failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// MarkRead handles POST /api/v1/messages/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req MarkReadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	sender, err := uuid.Parse(req.SenderID)
	if err != nil {
		http.Error(w, `{"error":"invalid sender_id"}`, http.StatusBadRequest)
		return
	}
	taskID, ok := optionalUUID(req.TaskID)
	if !ok {
		http.Error(w, `{"error":"invalid task_id"}`, http.StatusBadRequest)
		return
	}
	var upTo time.Time
	if req.UpTo != nil {
		upTo = *req.UpTo
	}
	n, err := h.svc.MarkRead(r.Context(), u.ID, sender, taskID, upTo)
	if err != nil {
		h.log.Error("mark read failed", "error", err)
		http.Error(w, `{"error":"mark read failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	n, err := h.svc.UnreadCount(r.Context(), u.ID)
	if err != nil {
		h.log.Error("unread count failed", "error", err)
		http.Error(w, `{"error":"unread count failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func optionalUUID(s *string) (*uuid.UUID, bool) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, true
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, false
	}
	return &id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
