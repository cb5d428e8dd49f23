package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/helix-hr/helix-client/internal/domain"
)

// SequencePayload is a server-shaped role+steps group, as delivered both by
// request/response calls and by push events. Steps stay raw until Normalize
// runs so a non-array value can be detected and the entry skipped without
// failing the whole payload.
type SequencePayload struct {
	Role  string          `json:"role"`
	Steps json.RawMessage `json:"steps"`
}

// StepPayload is a server-shaped step. The backend emits snake_case field
// names; some responses use camelCase, so both spellings are accepted here
// and nowhere else. Pointer fields distinguish absent from zero.
type StepPayload struct {
	ID            string  `json:"id"`
	StepType      *string `json:"step_type"`
	StepTypeCamel *string `json:"stepType"`
	Subject       *string `json:"subject"`
	Body          *string `json:"body"`
	Delay         *int    `json:"delay"`
	Order         *int    `json:"order"`
}

// NormalizedStep is the entity-model view of one incoming step: the partial
// update to apply when a step with the same id already exists, and the full
// insert data (defaults applied) when it does not.
type NormalizedStep struct {
	ID     string
	Update domain.StepUpdate
	Insert domain.StepData
}

// ParseSequenceUpdate decodes a sequence-update body that may be a single
// role group or an array of them.
func ParseSequenceUpdate(raw json.RawMessage) ([]SequencePayload, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var many []SequencePayload
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}

	var one SequencePayload
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode sequence update: %w", err)
	}
	return []SequencePayload{one}, nil
}

// NormalizeSteps is the single translation boundary between the wire format
// and the entity model. It returns an error when the steps value is not an
// array; callers skip the entry and keep going.
func NormalizeSteps(raw json.RawMessage) ([]NormalizedStep, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var payloads []StepPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, fmt.Errorf("steps is not an array: %w", err)
	}

	out := make([]NormalizedStep, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, normalizeStep(p))
	}
	return out, nil
}

func normalizeStep(p StepPayload) NormalizedStep {
	n := NormalizedStep{ID: p.ID}

	stepType := p.StepType
	if stepType == nil {
		stepType = p.StepTypeCamel
	}

	// Partial update: only fields the payload carries.
	if stepType != nil {
		t := domain.StepType(*stepType)
		n.Update.StepType = &t
	}
	n.Update.Subject = p.Subject
	n.Update.Body = p.Body
	n.Update.Delay = p.Delay
	n.Update.Order = p.Order

	// Insert data: defaults for anything absent. Order stays unset so the
	// store applies append semantics.
	n.Insert = domain.StepData{ID: p.ID}
	if stepType != nil {
		n.Insert.StepType = domain.StepType(*stepType)
	}
	if p.Subject != nil {
		n.Insert.Subject = *p.Subject
	}
	if p.Body != nil {
		n.Insert.Body = *p.Body
	}
	if p.Delay != nil {
		n.Insert.Delay = *p.Delay
	}
	if p.Order != nil {
		n.Insert.Order = *p.Order
		n.Insert.OrderSet = true
	}
	return n
}
