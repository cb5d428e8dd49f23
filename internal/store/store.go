// Package store holds the canonical in-memory workspace state: the chat
// transcript, outreach sequences, active-sequence selection and session
// identity. It is the single source of truth; every other component mutates
// it only through the operations defined here.
package store

import (
	"fmt"
	"sync"

	"golang.org/x/text/cases"

	"github.com/google/uuid"
	"github.com/helix-hr/helix-client/internal/domain"
)

// Observer is notified after every completed mutation. Observers run outside
// the store lock and must not mutate the store re-entrantly from the callback.
type Observer func()

// Store is an explicit instance rather than a process-wide singleton so tests
// and embedders can run independent stores side by side.
type Store struct {
	mu               sync.RWMutex
	sessionID        string
	welcome          string
	messages         []domain.Message
	sequences        []domain.Sequence
	activeSequenceID string
	loading          bool

	obsMu     sync.Mutex
	observers []Observer
}

// foldRole normalizes a role name for case-insensitive identity while the
// stored casing stays as first written.
func foldRole(role string) string {
	return cases.Fold().String(role)
}

// New creates a store bound to sessionID, seeded with a single assistant
// welcome message. The welcome content is retained so Reset can reseed it.
func New(sessionID, welcome string) *Store {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Store{
		sessionID: sessionID,
		welcome:   welcome,
		messages:  []domain.Message{domain.NewMessage(welcome, domain.SenderAI)},
		sequences: []domain.Sequence{},
	}
}

// Subscribe registers an observer for state-change notifications.
func (s *Store) Subscribe(fn Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) notify() {
	s.obsMu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// SessionID returns the current session identifier.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// SetSessionID replaces the session identifier without touching other state.
// Used during recovery after the caller has separately reset the workspace.
func (s *Store) SetSessionID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
	s.notify()
}

// AddMessage appends a chat message with a fresh id and current timestamp
// and returns it.
func (s *Store) AddMessage(content string, sender domain.Sender) domain.Message {
	msg := domain.NewMessage(content, sender)
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
	return msg
}

// Messages returns a copy of the transcript in append order.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetLoading sets the advisory UI-busy flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
	s.notify()
}

// Loading reports the advisory UI-busy flag.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// AddSequence returns the id of the sequence for role, creating it if no
// sequence matches the role case-insensitively, and marks it active. This is
// the single identity-resolution entry point for sequence creation; every
// path that creates sequences (chat-driven, UI-driven, push-driven) goes
// through it so duplicate roles cannot appear.
func (s *Store) AddSequence(role string) string {
	folded := foldRole(role)

	s.mu.Lock()
	for i := range s.sequences {
		if foldRole(s.sequences[i].Role) == folded {
			id := s.sequences[i].ID
			s.activeSequenceID = id
			s.mu.Unlock()
			s.notify()
			return id
		}
	}

	seq := domain.NewSequence(role)
	s.sequences = append(s.sequences, seq)
	s.activeSequenceID = seq.ID
	s.mu.Unlock()
	s.notify()
	return seq.ID
}

// RemoveSequence removes the sequence and all its steps. If it was active,
// the first remaining sequence becomes active, or the selection clears.
// Unknown ids are a no-op.
func (s *Store) RemoveSequence(id string) {
	s.mu.Lock()
	idx := -1
	for i := range s.sequences {
		if s.sequences[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	s.sequences = append(s.sequences[:idx], s.sequences[idx+1:]...)
	if s.activeSequenceID == id {
		if len(s.sequences) > 0 {
			s.activeSequenceID = s.sequences[0].ID
		} else {
			s.activeSequenceID = ""
		}
	}
	s.mu.Unlock()
	s.notify()
}

// SetActiveSequence marks an existing sequence as active. Returns
// domain.ErrNotFound for an unknown id so the selection can never point at
// nothing.
func (s *Store) SetActiveSequence(id string) error {
	s.mu.Lock()
	found := false
	for i := range s.sequences {
		if s.sequences[i].ID == id {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	s.activeSequenceID = id
	s.mu.Unlock()
	s.notify()
	return nil
}

// ActiveSequence returns a copy of the active sequence, if any.
func (s *Store) ActiveSequence() (domain.Sequence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.sequences {
		if s.sequences[i].ID == s.activeSequenceID {
			return s.sequences[i].Clone(), true
		}
	}
	return domain.Sequence{}, false
}

// ActiveSequenceID returns the active selection, or "" when unset.
func (s *Store) ActiveSequenceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeSequenceID
}

// Sequences returns a deep copy of all sequences in creation order.
func (s *Store) Sequences() []domain.Sequence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Sequence, len(s.sequences))
	for i := range s.sequences {
		out[i] = s.sequences[i].Clone()
	}
	return out
}

// SequenceByRole returns a copy of the sequence whose role matches
// case-insensitively, if any.
func (s *Store) SequenceByRole(role string) (domain.Sequence, bool) {
	folded := foldRole(role)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.sequences {
		if foldRole(s.sequences[i].Role) == folded {
			return s.sequences[i].Clone(), true
		}
	}
	return domain.Sequence{}, false
}

// SequenceByID returns a copy of the sequence with the given id, if any.
func (s *Store) SequenceByID(id string) (domain.Sequence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.sequences {
		if s.sequences[i].ID == id {
			return s.sequences[i].Clone(), true
		}
	}
	return domain.Sequence{}, false
}

// AddSequenceStep appends a new step with defaults applied to the named
// sequence and returns it. An unset order defaults to the current step count
// (append semantics). Returns domain.ErrNotFound for an unknown sequence and
// domain.ErrInvalidArgument for malformed step data.
func (s *Store) AddSequenceStep(sequenceID string, data domain.StepData) (domain.SequenceStep, error) {
	s.mu.Lock()
	var seq *domain.Sequence
	for i := range s.sequences {
		if s.sequences[i].ID == sequenceID {
			seq = &s.sequences[i]
			break
		}
	}
	if seq == nil {
		s.mu.Unlock()
		return domain.SequenceStep{}, domain.ErrNotFound
	}
	if data.ID != "" && seq.FindStep(data.ID) != nil {
		s.mu.Unlock()
		return domain.SequenceStep{}, fmt.Errorf("step id %q already exists: %w", data.ID, domain.ErrInvalidArgument)
	}

	step, err := domain.NewStep(data, len(seq.Steps))
	if err != nil {
		s.mu.Unlock()
		return domain.SequenceStep{}, err
	}
	seq.Steps = append(seq.Steps, step)
	s.mu.Unlock()
	s.notify()
	return step, nil
}

// UpdateSequenceStep applies a partial field update to the matching step,
// preserving fields the update does not carry. Unknown sequence or step ids
// are silent no-ops so stale references from the UI cannot fail.
func (s *Store) UpdateSequenceStep(sequenceID, stepID string, update domain.StepUpdate) error {
	s.mu.Lock()
	var step *domain.SequenceStep
	for i := range s.sequences {
		if s.sequences[i].ID == sequenceID {
			step = s.sequences[i].FindStep(stepID)
			break
		}
	}
	if step == nil {
		s.mu.Unlock()
		return nil
	}
	if err := update.Apply(step); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// RemoveSequenceStep removes the step from the named sequence. Unknown ids
// are silent no-ops.
func (s *Store) RemoveSequenceStep(sequenceID, stepID string) {
	s.mu.Lock()
	removed := false
	for i := range s.sequences {
		if s.sequences[i].ID != sequenceID {
			continue
		}
		steps := s.sequences[i].Steps
		for j := range steps {
			if steps[j].ID == stepID {
				s.sequences[i].Steps = append(steps[:j], steps[j+1:]...)
				removed = true
				break
			}
		}
		break
	}
	s.mu.Unlock()
	if removed {
		s.notify()
	}
}

// Reset wipes the workspace back to its initial state: the given (or a
// freshly generated) session id, a single welcome message, no sequences and
// no active selection. Used on session delete and on switching sessions.
func (s *Store) Reset(sessionID string) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s.mu.Lock()
	s.sessionID = sessionID
	s.messages = []domain.Message{domain.NewMessage(s.welcome, domain.SenderAI)}
	s.sequences = []domain.Sequence{}
	s.activeSequenceID = ""
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

// Snapshot exports the current workspace for the export flow.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := domain.Snapshot{
		SessionID: s.sessionID,
		Messages:  make([]domain.Message, len(s.messages)),
		Sequences: make([]domain.Sequence, len(s.sequences)),
	}
	copy(snap.Messages, s.messages)
	for i := range s.sequences {
		snap.Sequences[i] = s.sequences[i].Clone()
	}
	return snap
}
