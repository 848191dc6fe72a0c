// Package messaging stores direct messages between users and groups them
// into per-counterpart threads.
package messaging

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/models"
)

// Thread is one conversation with a counterpart across all tasks.
type Thread struct {
	CounterpartID uuid.UUID       `json:"counterpart_id"`
	LastMessage   *models.Message `json:"last_message"`
	UnreadCount   int             `json:"unread_count"`
	TaskIDs       []uuid.UUID     `json:"task_ids"`
	// Title is the title of the last message's task. TitleErr is set when
	// that lookup failed; the thread is still usable without a title.
	Title    string `json:"title,omitempty"`
	TitleErr error  `json:"-"`
}

func (t Thread) MarshalJSON() ([]byte, error) {
	type alias Thread
	out := struct {
		alias
		TitleError string `json:"title_error,omitempty"`
	}{alias: alias(t)}
	if t.TitleErr != nil {
		out.TitleError = t.TitleErr.Error()
	}
	return json.Marshal(out)
}

// GroupThreads groups msgs by the other party relative to userID. Unread
// counts only include messages userID received. Threads are ordered by
// their latest message, newest first.
func GroupThreads(userID uuid.UUID, msgs []*models.Message) []Thread {
	byCounterpart := make(map[uuid.UUID]*Thread)
	seenTask := make(map[uuid.UUID]map[uuid.UUID]bool)

	sorted := make([]*models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	for _, m := range sorted {
		var other uuid.UUID
		switch userID {
		case m.SenderID:
			other = m.ReceiverID
		case m.ReceiverID:
			other = m.SenderID
		default:
			continue
		}
		th, ok := byCounterpart[other]
		if !ok {
			th = &Thread{CounterpartID: other, TaskIDs: []uuid.UUID{}}
			byCounterpart[other] = th
			seenTask[other] = make(map[uuid.UUID]bool)
		}
		th.LastMessage = m
		if m.ReceiverID == userID && m.SenderID != userID && !m.Read {
			th.UnreadCount++
		}
		if m.TaskID != nil && !seenTask[other][*m.TaskID] {
			seenTask[other][*m.TaskID] = true
			th.TaskIDs = append(th.TaskIDs, *m.TaskID)
		}
	}

	out := make([]Thread, 0, len(byCounterpart))
	for _, th := range byCounterpart {
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessage.CreatedAt, out[j].LastMessage.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].CounterpartID.String() < out[j].CounterpartID.String()
	})
	return out
}
