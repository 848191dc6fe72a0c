package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/realtime"
	"github.com/taskmarket/backend/internal/storage"
)

var (
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidAttachment = errors.New("attachment must be an image or video")
)

// titleLookupConcurrency bounds parallel task title queries per Threads call.
const titleLookupConcurrency = 4

type Store interface {
	Create(ctx context.Context, m *models.Message) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Message, error)
	Conversation(ctx context.Context, userID, counterpart uuid.UUID, taskID *uuid.UUID) ([]*models.Message, error)
	MarkRead(ctx context.Context, receiverID, senderID uuid.UUID, taskID *uuid.UUID, upTo time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
}

type TaskTitles interface {
	Title(ctx context.Context, id uuid.UUID) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (*storage.Object, error)
}

type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, ev realtime.Event) error
}

type Service struct {
	store  Store
	titles TaskTitles
	files  Uploader
	events Publisher
	now    func() time.Time
	log    *slog.Logger
}

func NewService(store Store, titles TaskTitles, files Uploader, events Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, titles: titles, files: files, events: events, now: time.Now, log: log}
}

// Attachment is a file to send with a message.
type Attachment struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

type SendInput struct {
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	TaskID      *uuid.UUID
	Content     string
	Attachments []Attachment
}

func attachmentKind(contentType string) (string, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return models.AttachmentKindImage, nil
	case strings.HasPrefix(ct, "video/"):
		return models.AttachmentKindVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAttachment, contentType)
}

// Send uploads attachments, stores the message and notifies the receiver.
// An attachment that cannot be uploaded fails the send.
func (s *Service) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if in.SenderID == in.ReceiverID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrInvalidMessage)
	}
	if content == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}

	m := &models.Message{
		ID:         uuid.New(),
		TaskID:     in.TaskID,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    content,
	}
	for _, a := range in.Attachments {
		kind, err := attachmentKind(a.ContentType)
		if err != nil {
			return nil, err
		}
		id := uuid.New()
		name := storage.ObjectName(in.SenderID.String(), id.String(), a.FileName)
		obj, err := s.files.Upload(ctx, storage.BucketMessageAttachments, name, a.ContentType, a.Body)
		if err != nil {
			return nil, fmt.Errorf("upload attachment %s: %w", a.FileName, err)
		}
		m.Attachments = append(m.Attachments, models.MessageAttachment{
			ID: id, URL: obj.URL, Kind: kind, FileName: a.FileName,
		})
	}

	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, m.ReceiverID, realtime.Event{
		Type: realtime.EventMessageCreated, MessageID: &m.ID, SenderID: m.SenderID,
		ReceiverID: m.ReceiverID, TaskID: m.TaskID, At: m.CreatedAt,
	})
	return m, nil
}

// Threads returns the user's threads with titles resolved. A failed title
// lookup is reported on its thread and does not fail the call.
func (s *Service) Threads(ctx context.Context, userID uuid.UUID) ([]Thread, error) {
	msgs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	threads := GroupThreads(userID, msgs)

	type lookup struct {
		title string
		err   error
	}
	var (
		mu      sync.Mutex
		results = make(map[uuid.UUID]lookup)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(titleLookupConcurrency)
	for _, th := range threads {
		if th.LastMessage.TaskID == nil {
			continue
		}
		id := *th.LastMessage.TaskID
		mu.Lock()
		_, queued := results[id]
		if !queued {
			results[id] = lookup{}
		}
		mu.Unlock()
		if queued {
			continue
		}
		g.Go(func() error {
			title, err := s.titles.Title(gctx, id)
			mu.Lock()
			results[id] = lookup{title: title, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i := range threads {
		if threads[i].LastMessage.TaskID == nil {
			continue
		}
		id := *threads[i].LastMessage.TaskID
		r := results[id]
		threads[i].Title = r.title
		if r.err != nil {
			threads[i].TitleErr = fmt.Errorf("task %s title: %w", id, r.err)
			s.log.Warn("thread title lookup failed", "task_id", id, "error", r.err)
		}
	}
	return threads, nil
}

func (s *Service) Conversation(ctx context.Context, userID, counterpart uuid.UUID, taskID *uuid.UUID) ([]*models.Message, error) {
	msgs, err := s.store.Conversation(ctx, userID, counterpart, taskID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs, nil
}

// MarkRead marks messages from senderID to receiverID as read, limited to
// those created at or before upTo. A zero upTo means now.
func (s *Service) MarkRead(ctx context.Context, receiverID, senderID uuid.UUID, taskID *uuid.UUID, upTo time.Time) (int64, error) {
	if upTo.IsZero() {
		upTo = s.now()
	}
	n, err := s.store.MarkRead(ctx, receiverID, senderID, taskID, upTo)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, receiverID, realtime.Event{
			Type: realtime.EventMessagesRead, SenderID: senderID, ReceiverID: receiverID,
			TaskID: taskID, Count: n, At: s.now().UTC(),
		})
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// publish is best effort: the row is already committed.
func (s *Service) publish(ctx context.Context, userID uuid.UUID, ev realtime.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, userID, ev); err != nil {
		s.log.Warn("realtime publish failed", "user_id", userID, "type", ev.Type, "error", err)
	}
}
