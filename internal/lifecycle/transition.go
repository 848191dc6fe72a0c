// Package lifecycle drives tasks and offers through their status machine.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/taskmarket/backend/internal/models"
)

type Action string

const (
	ActionAccept       Action = "accept"
	ActionReject       Action = "reject"
	ActionMarkWorkDone Action = "mark_work_done"
	ActionApprove      Action = "approve"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("caller may not perform this action")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateOffer    = errors.New("provider already made an offer on this task")
	ErrInvalidOffer      = errors.New("invalid offer")
	ErrUnknownAction     = errors.New("unknown action")
)

// ParseAction accepts the wire spellings of an action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "accept":
		return ActionAccept, nil
	case "reject":
		return ActionReject, nil
	case "mark_work_done", "markWorkDone", "complete-work":
		return ActionMarkWorkDone, nil
	case "approve":
		return ActionApprove, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Transition returns the offer and task statuses that action a produces from
// the given current statuses. An empty nextTask means the task is untouched.
func Transition(taskStatus, offerStatus string, a Action) (nextOffer, nextTask string, err error) {
	task := models.NormalizeTaskStatus(taskStatus)
	terminal := task == models.TaskStatusCompleted || task == models.TaskStatusCancelled

	switch a {
	case ActionAccept:
		if task == models.TaskStatusOpen && offerStatus == models.OfferStatusPending {
			return models.OfferStatusAccepted, models.TaskStatusAssigned, nil
		}
	case ActionReject:
		if offerStatus == models.OfferStatusPending {
			return models.OfferStatusRejected, "", nil
		}
	case ActionMarkWorkDone:
		if !terminal && offerStatus == models.OfferStatusAccepted {
			return models.OfferStatusWorkCompleted, models.TaskStatusPendingComplete, nil
		}
	case ActionApprove:
		if task == models.TaskStatusPendingComplete && offerStatus == models.OfferStatusWorkCompleted {
			return models.OfferStatusCompleted, models.TaskStatusCompleted, nil
		}
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	return "", "", fmt.Errorf("%w: cannot %s offer %s on task %s", ErrInvalidTransition, a, offerStatus, taskStatus)
}

// ReconcileStatus returns the task status implied by its offers. Cancelled
// and completed tasks are never moved; legacy spellings are normalized.
func ReconcileStatus(taskStatus string, offers []*models.Offer) string {
	current := models.NormalizeTaskStatus(taskStatus)
	if current == models.TaskStatusCancelled || current == models.TaskStatusCompleted {
		return current
	}

	var accepted, workDone, completed bool
	for _, o := range offers {
		switch o.Status {
		case models.OfferStatusAccepted:
			accepted = true
		case models.OfferStatusWorkCompleted:
			workDone = true
		case models.OfferStatusCompleted:
			completed = true
		}
	}
	switch {
	case completed:
		return models.TaskStatusCompleted
	case workDone:
		return models.TaskStatusPendingComplete
	case accepted:
		return models.TaskStatusAssigned
	}
	if current == models.TaskStatusAssigned || current == models.TaskStatusPendingComplete {
		return models.TaskStatusOpen
	}
	return current
}
