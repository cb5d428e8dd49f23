// Package reconcile merges server-originated payloads into the local store.
// Updates arrive both from request/response calls and from the push channel,
// possibly out of order, duplicated or partially overlapping; identity
// resolution (case-insensitive role match, step-id match) makes the final
// state converge regardless of arrival order.
package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/helix-hr/helix-client/internal/domain"
	"github.com/helix-hr/helix-client/internal/store"
)

// DefaultDedupWindow is how close together two identical sender+content
// messages must arrive to be treated as duplicates of one another.
const DefaultDedupWindow = 2 * time.Second

// Origin records which path delivered a sequence update. Chat-driven updates
// always activate the touched sequence; push, restore and import updates
// activate only sequences they create.
type Origin int

const (
	OriginChat Origin = iota
	OriginPush
	OriginRestore
	OriginImport
)

// Engine applies normalized payloads to the store using the in-place
// update-or-insert merge policy. One engine serves one store.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// New creates an engine over the given store. A zero window falls back to
// DefaultDedupWindow.
func New(st *store.Store, window time.Duration, logger *slog.Logger) *Engine {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		logger: logger,
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// AddChatMessage appends a chat message unless an identical sender+content
// pair was appended within the dedup window. It reports whether the message
// was appended, so applying the same payload twice within the window cannot
// double-append.
func (e *Engine) AddChatMessage(content string, sender domain.Sender) bool {
	key := string(sender) + "\x00" + content
	now := e.now()

	e.mu.Lock()
	for k, t := range e.seen {
		if now.Sub(t) > e.window {
			delete(e.seen, k)
		}
	}
	if last, ok := e.seen[key]; ok && now.Sub(last) <= e.window {
		e.mu.Unlock()
		e.logger.Debug("dropped duplicate chat message", "sender", sender)
		return false
	}
	e.seen[key] = now
	e.mu.Unlock()

	e.store.AddMessage(content, sender)
	return true
}

// ApplySequenceUpdate merges one or more role groups into the store.
// sessionID is the session the payload was produced for; a stale id (the
// store has moved to another session since the call went out) drops the
// whole payload. Malformed entries are skipped with a diagnostic and never
// interrupt the remaining entries.
func (e *Engine) ApplySequenceUpdate(sessionID string, payloads []SequencePayload, origin Origin) {
	if sessionID != "" && sessionID != e.store.SessionID() {
		e.logger.Debug("ignoring sequence update for stale session", "session_id", sessionID)
		return
	}

	for _, payload := range payloads {
		e.applyOne(payload, origin)
	}
}

func (e *Engine) applyOne(payload SequencePayload, origin Origin) {
	if payload.Role == "" {
		e.logger.Debug("skipping sequence update entry without role")
		return
	}

	steps, err := NormalizeSteps(payload.Steps)
	if err != nil {
		e.logger.Debug("skipping malformed sequence update entry", "role", payload.Role, "error", err)
		return
	}

	existing, found := e.store.SequenceByRole(payload.Role)
	if !found {
		// New role: AddSequence resolves identity and marks it active.
		id := e.store.AddSequence(payload.Role)
		for _, st := range steps {
			if _, err := e.store.AddSequenceStep(id, st.Insert); err != nil {
				e.logger.Debug("skipping bad step in sequence update", "role", payload.Role, "error", err)
			}
		}
		return
	}

	// Existing role: update steps in place by id, insert the rest.
	for _, st := range steps {
		if st.ID != "" && existing.FindStep(st.ID) != nil {
			if err := e.store.UpdateSequenceStep(existing.ID, st.ID, st.Update); err != nil {
				e.logger.Debug("skipping bad step update", "role", payload.Role, "step_id", st.ID, "error", err)
			}
			continue
		}
		if _, err := e.store.AddSequenceStep(existing.ID, st.Insert); err != nil {
			e.logger.Debug("skipping bad step in sequence update", "role", payload.Role, "error", err)
		}
	}

	if origin == OriginChat {
		if err := e.store.SetActiveSequence(existing.ID); err != nil {
			e.logger.Debug("sequence vanished before activation", "role", payload.Role)
		}
	}
}

// ApplySequences merges already-normalized entity sequences, e.g. from a
// session restore response or an imported snapshot. Each sequence goes
// through the same role-identity path as server updates, so importing the
// same snapshot twice does not duplicate anything.
func (e *Engine) ApplySequences(sessionID string, sequences []domain.Sequence, origin Origin) {
	if sessionID != "" && sessionID != e.store.SessionID() {
		e.logger.Debug("ignoring sequences for stale session", "session_id", sessionID)
		return
	}

	for _, seq := range sequences {
		if seq.Role == "" {
			continue
		}
		existing, found := e.store.SequenceByRole(seq.Role)
		var id string
		if found {
			id = existing.ID
		} else {
			id = e.store.AddSequence(seq.Role)
		}
		for _, step := range seq.Steps {
			if found && step.ID != "" && existing.FindStep(step.ID) != nil {
				continue
			}
			data := domain.StepData{
				ID:       step.ID,
				StepType: step.StepType,
				Subject:  step.Subject,
				Body:     step.Body,
				Delay:    step.Delay,
				Order:    step.Order,
				OrderSet: true,
			}
			if _, err := e.store.AddSequenceStep(id, data); err != nil {
				e.logger.Debug("skipping bad imported step", "role", seq.Role, "error", err)
			}
		}
		if origin == OriginChat {
			if err := e.store.SetActiveSequence(id); err != nil {
				e.logger.Debug("sequence vanished before activation", "role", seq.Role)
			}
		}
	}
}
