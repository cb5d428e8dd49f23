// Package chat orchestrates chat turns and sequence CRUD: it drives the
// remote gateway, hands server payloads to the reconciliation engine and
// applies the uniform optimistic-update policy. It is also the sink for
// push-delivered events, which it treats identically to request-delivered
// ones.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/helix-hr/helix-client/internal/domain"
	"github.com/helix-hr/helix-client/internal/gateway"
	"github.com/helix-hr/helix-client/internal/reconcile"
	"github.com/helix-hr/helix-client/internal/store"
)

// Notifier surfaces a transient user-facing notice (e.g. a failed remote
// call). It must not block.
type Notifier func(message string)

// Service ties the store, engine and gateway together for one session
// workspace.
type Service struct {
	store      *store.Store
	engine     *reconcile.Engine
	client     *gateway.Client
	logger     *slog.Logger
	notify      Notifier
	optimistic  bool
	fallback    string
	errorNotice string
}

// Options configures a Service.
type Options struct {
	// Optimistic applies local mutations even when the remote call fails,
	// keeping the workspace usable while the backend is unreachable. This is
	// the one policy for every call site.
	Optimistic bool

	// Fallback is the assistant message appended when a chat send fails.
	Fallback string

	// ErrorNotice is the user-facing notice surfaced when a chat send fails.
	ErrorNotice string

	Notify Notifier
	Logger *slog.Logger
}

// New creates a chat service.
func New(st *store.Store, engine *reconcile.Engine, client *gateway.Client, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notify == nil {
		opts.Notify = func(string) {}
	}
	if opts.Fallback == "" {
		opts.Fallback = "I'm having trouble processing your message right now. Please try again."
	}
	if opts.ErrorNotice == "" {
		opts.ErrorNotice = "Failed to process message. Please try again."
	}
	return &Service{
		store:       st,
		engine:      engine,
		client:      client,
		logger:      opts.Logger,
		notify:      opts.Notify,
		optimistic:  opts.Optimistic,
		fallback:    opts.Fallback,
		errorNotice: opts.ErrorNotice,
	}
}

// ProcessMessage appends the user's message, sends it to the backend and
// applies the response: the assistant reply goes through dedup, and any
// sequence update is merged. A failed send appends the fallback assistant
// message and surfaces a notification instead of propagating to the caller.
func (s *Service) ProcessMessage(ctx context.Context, message string) {
	if message == "" {
		return
	}
	sessionID := s.store.SessionID()
	s.store.AddMessage(message, domain.SenderUser)
	s.store.SetLoading(true)
	defer s.store.SetLoading(false)

	resp, err := s.client.SendChat(ctx, sessionID, message)
	if err != nil {
		s.logger.Error("chat send failed", "error", err)
		s.notify(s.errorNotice)
		s.engine.AddChatMessage(s.fallback, domain.SenderAI)
		return
	}

	if resp.Response != "" {
		s.engine.AddChatMessage(resp.Response, domain.SenderAI)
	}
	if len(resp.SequenceUpdate) > 0 {
		s.applyRaw(sessionID, resp.SequenceUpdate, reconcile.OriginChat)
	}
}

func (s *Service) applyRaw(sessionID string, raw json.RawMessage, origin reconcile.Origin) {
	payloads, err := reconcile.ParseSequenceUpdate(raw)
	if err != nil {
		s.logger.Debug("dropping undecodable sequence update", "error", err)
		return
	}
	s.engine.ApplySequenceUpdate(sessionID, payloads, origin)
}

// CreateSequence creates (or reuses) the sequence for role locally and tells
// the backend. Under the optimistic policy the local sequence stays even
// when the remote call fails.
func (s *Service) CreateSequence(ctx context.Context, role string) (string, error) {
	sessionID := s.store.SessionID()

	if !s.optimistic {
		if err := s.client.CreateSequence(ctx, sessionID, role); err != nil {
			s.notify("Failed to create sequence. Please try again.")
			return "", fmt.Errorf("create sequence %q: %w", role, err)
		}
		return s.store.AddSequence(role), nil
	}

	id := s.store.AddSequence(role)
	if err := s.client.CreateSequence(ctx, sessionID, role); err != nil {
		s.logger.Warn("remote create sequence failed, keeping local copy", "role", role, "error", err)
		s.notify("Sequence saved locally; the server could not be reached.")
		return id, err
	}
	return id, nil
}

// FetchSequences pulls every sequence for the session and merges them in.
func (s *Service) FetchSequences(ctx context.Context) error {
	sessionID := s.store.SessionID()
	s.store.SetLoading(true)
	defer s.store.SetLoading(false)

	raw, err := s.client.ListSequences(ctx, sessionID)
	if err != nil {
		s.notify("Failed to load sequences.")
		return fmt.Errorf("fetch sequences: %w", err)
	}
	s.applyRaw(sessionID, raw, reconcile.OriginRestore)
	return nil
}

// AddStep appends a step to a sequence locally and remotely.
func (s *Service) AddStep(ctx context.Context, sequenceID string, data domain.StepData) error {
	seq, ok := s.store.SequenceByID(sequenceID)
	if !ok {
		return domain.ErrNotFound
	}
	sessionID := s.store.SessionID()

	apply := func() error {
		_, err := s.store.AddSequenceStep(sequenceID, data)
		return err
	}
	remote := func() error {
		return s.client.AddStep(ctx, sessionID, seq.Role, stepRequestFromData(data))
	}
	return s.mutate(apply, remote, "Failed to add step.")
}

// UpdateStep edits a step locally and remotely.
func (s *Service) UpdateStep(ctx context.Context, sequenceID, stepID string, update domain.StepUpdate) error {
	sessionID := s.store.SessionID()

	apply := func() error {
		return s.store.UpdateSequenceStep(sequenceID, stepID, update)
	}
	remote := func() error {
		return s.client.UpdateStep(ctx, sessionID, stepID, stepRequestFromUpdate(update))
	}
	return s.mutate(apply, remote, "Failed to update step.")
}

// DeleteStep removes a step locally and remotely.
func (s *Service) DeleteStep(ctx context.Context, sequenceID, stepID string) error {
	sessionID := s.store.SessionID()

	apply := func() error {
		s.store.RemoveSequenceStep(sequenceID, stepID)
		return nil
	}
	remote := func() error {
		return s.client.DeleteStep(ctx, sessionID, stepID)
	}
	return s.mutate(apply, remote, "Failed to remove step.")
}

// DeleteSequence removes a whole sequence locally and remotely.
func (s *Service) DeleteSequence(ctx context.Context, sequenceID string) error {
	seq, ok := s.store.SequenceByID(sequenceID)
	if !ok {
		return domain.ErrNotFound
	}
	sessionID := s.store.SessionID()

	apply := func() error {
		s.store.RemoveSequence(sequenceID)
		return nil
	}
	remote := func() error {
		return s.client.DeleteSequence(ctx, sessionID, seq.Role)
	}
	return s.mutate(apply, remote, "Failed to remove sequence.")
}

// mutate runs a local mutation and its remote counterpart under the single
// optimistic policy: optimistic applies locally first and reports (but keeps)
// a failed remote write; strict applies locally only after the remote write
// succeeded.
func (s *Service) mutate(apply, remote func() error, notice string) error {
	if s.optimistic {
		if err := apply(); err != nil {
			return err
		}
		if err := remote(); err != nil {
			s.logger.Warn("remote mutation failed, local state kept", "error", err)
			s.notify(notice)
			return err
		}
		return nil
	}

	if err := remote(); err != nil {
		s.notify(notice)
		return err
	}
	return apply()
}

// Suggestion is a backend-proposed next step for a sequence.
type Suggestion struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
	Delay   int    `json:"delay"`
}

// SuggestNextStep asks the backend for a suggested next step and appends its
// chat commentary to the transcript.
func (s *Service) SuggestNextStep(ctx context.Context, role string) (*Suggestion, error) {
	sessionID := s.store.SessionID()
	s.store.SetLoading(true)
	defer s.store.SetLoading(false)

	resp, err := s.client.SuggestNextStep(ctx, sessionID, role)
	if err != nil {
		s.notify("Failed to get suggestions. Please try again.")
		return nil, fmt.Errorf("suggest next step: %w", err)
	}
	if resp.Response != "" {
		s.engine.AddChatMessage(resp.Response, domain.SenderAI)
	}
	if len(resp.Suggestion) == 0 {
		return nil, nil
	}

	var suggestion Suggestion
	if err := json.Unmarshal(resp.Suggestion, &suggestion); err != nil {
		s.logger.Debug("dropping undecodable suggestion", "error", err)
		return nil, nil
	}
	return &suggestion, nil
}

// AddSuggestedStep accepts a suggestion: the step is posted to the backend,
// a confirmation lands in the transcript and the sequences are refetched.
func (s *Service) AddSuggestedStep(ctx context.Context, role string, suggestion Suggestion) error {
	sessionID := s.store.SessionID()
	s.store.SetLoading(true)
	defer s.store.SetLoading(false)

	channel := suggestion.Channel
	if channel == "" {
		channel = string(domain.StepEmail)
	}
	body := suggestion.Content
	if body == "" {
		body = fmt.Sprintf("Follow-up on our previous conversation about the %s position.", role)
	}

	req := gateway.StepRequest{
		StepType: &channel,
		Body:     &body,
		Delay:    &suggestion.Delay,
	}
	if channel == string(domain.StepEmail) {
		subject := fmt.Sprintf("Follow-up: %s opportunity", role)
		req.Subject = &subject
	}

	if err := s.client.AddStep(ctx, sessionID, role, req); err != nil {
		s.notify("Failed to add suggested step. Please try again.")
		return fmt.Errorf("add suggested step: %w", err)
	}

	s.engine.AddChatMessage(fmt.Sprintf("Added a new %s step to your sequence.", channel), domain.SenderAI)
	return s.FetchSequences(ctx)
}

// InitContext seeds the assistant's hiring context for this session.
func (s *Service) InitContext(ctx context.Context, contextText string) error {
	if err := s.client.InitContext(ctx, s.store.SessionID(), contextText); err != nil {
		s.notify("Failed to initialize context.")
		return fmt.Errorf("init context: %w", err)
	}
	return nil
}

// HandleChatMessage implements push.Sink. Push-delivered assistant messages
// run through the same dedup as request-delivered ones, so a response that
// arrives on both channels shows up once.
func (s *Service) HandleChatMessage(sessionID, response string) {
	if sessionID != s.store.SessionID() {
		s.logger.Debug("ignoring push chat for stale session", "session_id", sessionID)
		return
	}
	s.engine.AddChatMessage(response, domain.SenderAI)
}

// HandleSequenceUpdate implements push.Sink.
func (s *Service) HandleSequenceUpdate(sessionID string, payload json.RawMessage) {
	s.applyRaw(sessionID, payload, reconcile.OriginPush)
}

func stepRequestFromData(data domain.StepData) gateway.StepRequest {
	stepType := string(data.StepType)
	if stepType == "" {
		stepType = string(domain.StepEmail)
	}
	req := gateway.StepRequest{
		StepType: &stepType,
		Body:     &data.Body,
		Delay:    &data.Delay,
	}
	if data.Subject != "" {
		req.Subject = &data.Subject
	}
	if data.OrderSet {
		req.Order = &data.Order
	}
	return req
}

func stepRequestFromUpdate(update domain.StepUpdate) gateway.StepRequest {
	var req gateway.StepRequest
	if update.StepType != nil {
		stepType := string(*update.StepType)
		req.StepType = &stepType
	}
	req.Subject = update.Subject
	req.Body = update.Body
	req.Delay = update.Delay
	req.Order = update.Order
	return req
}
