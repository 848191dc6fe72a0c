// Package draft models task posting as a four-step state machine:
// basic-info, location-date, review, confirmation.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/money"
)

type Step string

const (
	StepBasicInfo    Step = "basic-info"
	StepLocationDate Step = "location-date"
	StepReview       Step = "review"
	StepConfirmation Step = "confirmation"
)

var steps = []Step{StepBasicInfo, StepLocationDate, StepReview, StepConfirmation}

func (s Step) index() int {
	for i, x := range steps {
		if x == s {
			return i
		}
	}
	return -1
}

var (
	// ErrStepIncomplete means the payload for the current step failed validation.
	ErrStepIncomplete = errors.New("draft step incomplete")
	// ErrWrongStep means the operation is not allowed at the current step.
	ErrWrongStep = errors.New("operation not allowed at this step")
	ErrNoDraft   = errors.New("no saved draft")
)

const minTitleLen = 3

// Photo is an in-memory upload. Photos are never persisted in snapshots.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

type BasicInfo struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Budget      string     `json:"budget"`
	CategoryID  *uuid.UUID `json:"category_id,omitempty"`
	Photos      []Photo    `json:"-"`
}

type LocationDate struct {
	Location  string    `json:"location"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	DueDate   time.Time `json:"due_date"`
}

// PhotoResult reports the outcome of one photo upload after submission.
type PhotoResult struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Err  error  `json:"-"`
}

func (r PhotoResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Name  string `json:"name"`
		URL   string `json:"url,omitempty"`
		Error string `json:"error,omitempty"`
	}{Name: r.Name, URL: r.URL}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

type TaskCreator interface {
	Create(ctx context.Context, t *models.Task) error
}

type PhotoUploader interface {
	UploadTaskPhoto(ctx context.Context, taskID uuid.UUID, p Photo) (string, error)
}

type Machine struct {
	step  Step
	basic BasicInfo
	place LocationDate
	task  *models.Task
	now   func() time.Time
}

func New() *Machine {
	return &Machine{step: StepBasicInfo, now: time.Now}
}

func (m *Machine) Step() Step                 { return m.step }
func (m *Machine) BasicInfo() BasicInfo       { return m.basic }
func (m *Machine) LocationDate() LocationDate { return m.place }

// Task returns the created task once the machine reached confirmation.
func (m *Machine) Task() *models.Task { return m.task }

// Next validates the payload for the current step, stores it and advances.
// basic-info takes a BasicInfo, location-date a LocationDate. Review only
// advances through Submit.
func (m *Machine) Next(payload any) error {
	switch m.step {
	case StepBasicInfo:
		b, ok := payload.(BasicInfo)
		if !ok {
			return fmt.Errorf("%w: basic-info expects BasicInfo, got %T", ErrWrongStep, payload)
		}
		if err := validateBasicInfo(b); err != nil {
			return err
		}
		m.basic = b
		m.step = StepLocationDate
	case StepLocationDate:
		l, ok := payload.(LocationDate)
		if !ok {
			return fmt.Errorf("%w: location-date expects LocationDate, got %T", ErrWrongStep, payload)
		}
		if err := validateLocationDate(l, m.now()); err != nil {
			return err
		}
		m.place = l
		m.step = StepReview
	default:
		return fmt.Errorf("%w: cannot advance from %s", ErrWrongStep, m.step)
	}
	return nil
}

// Back moves one step backward keeping entered data. It is a no-op at
// basic-info; a submitted draft cannot go back.
func (m *Machine) Back() error {
	switch m.step {
	case StepBasicInfo:
		return nil
	case StepConfirmation:
		return fmt.Errorf("%w: draft already submitted", ErrWrongStep)
	}
	m.step = steps[m.step.index()-1]
	return nil
}

// Submit creates the task, then uploads photos one at a time. Upload
// failures do not fail the submission; they come back in the results.
// If the task cannot be created the machine stays in review.
func (m *Machine) Submit(ctx context.Context, userID uuid.UUID, creator TaskCreator, uploader PhotoUploader) (*models.Task, []PhotoResult, error) {
	if m.step != StepReview {
		return nil, nil, fmt.Errorf("%w: submit from %s", ErrWrongStep, m.step)
	}
	cents, err := money.ParseCents(m.basic.Budget)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: budget: %v", ErrStepIncomplete, err)
	}

	t := &models.Task{
		ID:          uuid.New(),
		UserID:      userID,
		CategoryID:  m.basic.CategoryID,
		Title:       strings.TrimSpace(m.basic.Title),
		Description: strings.TrimSpace(m.basic.Description),
		Budget:      strings.TrimSpace(m.basic.Budget),
		BudgetCents: cents,
		Location:    strings.TrimSpace(m.place.Location),
		Latitude:    m.place.Latitude,
		Longitude:   m.place.Longitude,
		DueDate:     m.place.DueDate,
		Status:      models.TaskStatusOpen,
	}
	if err := creator.Create(ctx, t); err != nil {
		return nil, nil, fmt.Errorf("create task: %w", err)
	}

	results := make([]PhotoResult, 0, len(m.basic.Photos))
	for _, p := range m.basic.Photos {
		url, err := uploader.UploadTaskPhoto(ctx, t.ID, p)
		results = append(results, PhotoResult{Name: p.Name, URL: url, Err: err})
		if err == nil {
			t.Photos = append(t.Photos, url)
		}
	}

	m.task = t
	m.step = StepConfirmation
	return t, results, nil
}

func validateBasicInfo(b BasicInfo) error {
	if utf8.RuneCountInString(strings.TrimSpace(b.Title)) < minTitleLen {
		return fmt.Errorf("%w: title must be at least %d characters", ErrStepIncomplete, minTitleLen)
	}
	if strings.TrimSpace(b.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrStepIncomplete)
	}
	if _, err := money.ParseCents(b.Budget); err != nil {
		return fmt.Errorf("%w: budget: %v", ErrStepIncomplete, err)
	}
	return nil
}

func validateLocationDate(l LocationDate, now time.Time) error {
	if strings.TrimSpace(l.Location) == "" {
		return fmt.Errorf("%w: location is required", ErrStepIncomplete)
	}
	if (l.Latitude == nil) != (l.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude go together", ErrStepIncomplete)
	}
	if l.DueDate.IsZero() {
		return fmt.Errorf("%w: due date is required", ErrStepIncomplete)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if l.DueDate.Before(today) {
		return fmt.Errorf("%w: due date is in the past", ErrStepIncomplete)
	}
	return nil
}

// Snapshot is the persistable part of a draft.
type Snapshot struct {
	Step         Step         `json:"step"`
	BasicInfo    BasicInfo    `json:"basic_info"`
	LocationDate LocationDate `json:"location_date"`
}

func (m *Machine) Snapshot() Snapshot {
	return Snapshot{Step: m.step, BasicInfo: m.basic, LocationDate: m.place}
}

// Restore rebuilds a machine from a snapshot. If a step before the saved
// one no longer validates (for example the due date has passed) the
// machine resumes at that step instead. Confirmation cannot be restored.
func Restore(s Snapshot) (*Machine, error) {
	return restore(s, time.Now)
}

func restore(s Snapshot, now func() time.Time) (*Machine, error) {
	idx := s.Step.index()
	if idx < 0 || s.Step == StepConfirmation {
		return nil, fmt.Errorf("%w: cannot restore %q", ErrWrongStep, s.Step)
	}
	m := &Machine{step: StepBasicInfo, basic: s.BasicInfo, place: s.LocationDate, now: now}
	m.basic.Photos = nil
	if idx >= 1 && validateBasicInfo(m.basic) == nil {
		m.step = StepLocationDate
		if idx >= 2 && validateLocationDate(m.place, now()) == nil {
			m.step = StepReview
		}
	}
	return m, nil
}
