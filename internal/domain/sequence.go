package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// StepType is the outreach channel a step goes out on.
type StepType string

const (
	StepEmail    StepType = "email"
	StepLinkedIn StepType = "linkedin"
)

// Valid reports whether the step type is one of the known channels.
func (t StepType) Valid() bool {
	return t == StepEmail || t == StepLinkedIn
}

// SequenceStep is one scheduled outreach message within a sequence.
// Subject is only meaningful for email steps. Delay is the number of days
// to wait after the previous step. Order is a position hint.
type SequenceStep struct {
	ID       string   `json:"id"`
	StepType StepType `json:"stepType"`
	Subject  string   `json:"subject,omitempty"`
	Body     string   `json:"body"`
	Delay    int      `json:"delay"`
	Order    int      `json:"order"`
}

// StepData carries the caller-supplied fields for a new step. Zero values
// fall back to defaults: empty step type becomes email, order defaults to
// append position when OrderSet is false. A non-empty ID is kept so steps
// that already have a server-assigned identity survive re-delivery without
// duplicating; an empty ID gets a fresh one.
type StepData struct {
	ID       string
	StepType StepType
	Subject  string
	Body     string
	Delay    int
	Order    int
	OrderSet bool
}

// NewStep builds a step from partial data, applying defaults. The order
// default (current step count of the parent) is supplied by the caller since
// the step has no identity outside its parent sequence.
func NewStep(data StepData, appendOrder int) (SequenceStep, error) {
	if data.Delay < 0 {
		return SequenceStep{}, fmt.Errorf("step delay %d: %w", data.Delay, ErrInvalidArgument)
	}
	if data.Order < 0 {
		return SequenceStep{}, fmt.Errorf("step order %d: %w", data.Order, ErrInvalidArgument)
	}

	stepType := data.StepType
	if stepType == "" {
		stepType = StepEmail
	}
	if !stepType.Valid() {
		return SequenceStep{}, fmt.Errorf("step type %q: %w", stepType, ErrInvalidArgument)
	}

	order := data.Order
	if !data.OrderSet {
		order = appendOrder
	}

	id := data.ID
	if id == "" {
		id = shortuuid.New()
	}

	return SequenceStep{
		ID:       id,
		StepType: stepType,
		Subject:  data.Subject,
		Body:     data.Body,
		Delay:    data.Delay,
		Order:    order,
	}, nil
}

// StepUpdate is a partial in-place edit of an existing step. Nil fields are
// left unchanged.
type StepUpdate struct {
	StepType *StepType
	Subject  *string
	Body     *string
	Delay    *int
	Order    *int
}

// Apply merges the update into the step, leaving absent fields alone.
func (u StepUpdate) Apply(step *SequenceStep) error {
	if u.Delay != nil && *u.Delay < 0 {
		return fmt.Errorf("step delay %d: %w", *u.Delay, ErrInvalidArgument)
	}
	if u.Order != nil && *u.Order < 0 {
		return fmt.Errorf("step order %d: %w", *u.Order, ErrInvalidArgument)
	}
	if u.StepType != nil {
		if !u.StepType.Valid() {
			return fmt.Errorf("step type %q: %w", *u.StepType, ErrInvalidArgument)
		}
		step.StepType = *u.StepType
	}
	if u.Subject != nil {
		step.Subject = *u.Subject
	}
	if u.Body != nil {
		step.Body = *u.Body
	}
	if u.Delay != nil {
		step.Delay = *u.Delay
	}
	if u.Order != nil {
		step.Order = *u.Order
	}
	return nil
}

// Sequence is an ordered outreach plan for one job role. Role identity is
// case-insensitive; the stored casing is whatever the sequence was first
// created with.
type Sequence struct {
	ID    string         `json:"id"`
	Role  string         `json:"role"`
	Steps []SequenceStep `json:"steps"`
}

// NewSequence creates an empty sequence for a role.
func NewSequence(role string) Sequence {
	return Sequence{
		ID:    uuid.NewString(),
		Role:  role,
		Steps: []SequenceStep{},
	}
}

// FindStep returns a pointer to the step with the given id, or nil.
func (s *Sequence) FindStep(stepID string) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].ID == stepID {
			return &s.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy so readers never alias store-owned step slices.
func (s Sequence) Clone() Sequence {
	out := s
	out.Steps = make([]SequenceStep, len(s.Steps))
	copy(out.Steps, s.Steps)
	return out
}
