package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AttachmentKindImage = "image"
	AttachmentKindVideo = "video"
)

type Message struct {
	ID          uuid.UUID           `json:"id"`
	TaskID      *uuid.UUID          `json:"task_id,omitempty"`
	SenderID    uuid.UUID           `json:"sender_id"`
	ReceiverID  uuid.UUID           `json:"receiver_id"`
	Content     string              `json:"content"`
	Read        bool                `json:"read"`
	CreatedAt   time.Time           `json:"created_at"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
}

type MessageAttachment struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}
