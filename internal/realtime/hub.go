// Package realtime fans out message events to connected clients over redis
// pub/sub. Each user listens on its own channel, messages:<user id>.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	EventMessageCreated = "message.created"
	EventMessagesRead   = "messages.read"
)

type Event struct {
	Type       string     `json:"type"`
	MessageID  *uuid.UUID `json:"message_id,omitempty"`
	SenderID   uuid.UUID  `json:"sender_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	TaskID     *uuid.UUID `json:"task_id,omitempty"`
	// Count is the number of rows a read update changed.
	Count int64     `json:"count,omitempty"`
	At    time.Time `json:"at"`
}

func Channel(userID uuid.UUID) string {
	return "messages:" + userID.String()
}

type Hub struct {
	rdb       *redis.Client
	heartbeat time.Duration
	log       *slog.Logger
}

func NewHub(rdb *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{rdb: rdb, heartbeat: 25 * time.Second, log: log}
}

// Publish sends ev to the given user's channel. Delivery is best effort:
// nobody listening is not an error.
func (h *Hub) Publish(ctx context.Context, userID uuid.UUID, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, Channel(userID), b).Err()
}

// Subscribe returns once the subscription is live. The channel is closed
// and the redis subscription released when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, userID uuid.UUID) (<-chan Event, error) {
	ps := h.rdb.Subscribe(ctx, Channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(userID), err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					h.log.Warn("dropping malformed event", "channel", m.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
