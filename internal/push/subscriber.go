// Package push maintains the websocket channel that delivers chat and
// sequence events out of band from request/response calls. Delivery is
// at-most-once: events that arrive while the client is reconnecting are
// lost, and correctness relies on the request/response surface instead.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Sink receives decoded push events. The session id is the room the
// subscriber had joined when the event arrived, so stale events can be
// discarded downstream.
type Sink interface {
	HandleChatMessage(sessionID, response string)
	HandleSequenceUpdate(sessionID string, payload json.RawMessage)
}

// Config holds push channel configuration.
type Config struct {
	URL              string
	DialTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// RoomPollInterval is how often the subscriber checks whether the
	// session id moved, so it can switch rooms on the live connection.
	RoomPollInterval time.Duration
}

// DefaultConfig returns the default push channel configuration.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:5000/ws",
		DialTimeout:      10 * time.Second,
		ReconnectInitial: time.Second,
		ReconnectMax:     30 * time.Second,
		RoomPollInterval: time.Second,
	}
}

// Subscriber connects to the push channel, joins the current session's room
// and dispatches events to the sink. Disconnects trigger automatic
// reconnects with exponential backoff; the room is re-joined before event
// delivery resumes.
type Subscriber struct {
	cfg       Config
	sessionID func() string
	sink      Sink
	logger    *slog.Logger
}

// New creates a subscriber. sessionID is read at every (re)connect and
// polled while connected, so the subscriber always sits in the room of the
// session the store currently owns.
func New(cfg Config, sessionID func() string, sink Sink, logger *slog.Logger) *Subscriber {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = def.ReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.RoomPollInterval <= 0 {
		cfg.RoomPollInterval = def.RoomPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{cfg: cfg, sessionID: sessionID, sink: sink, logger: logger}
}

// envelope is the framing for every message on the channel.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomPayload struct {
	SessionID string `json:"sessionId"`
}

type chatPayload struct {
	Response string `json:"response"`
}

// Run connects and serves events until the context is canceled. It never
// returns a connection error to the caller; failures are logged and retried.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := s.cfg.ReconnectInitial

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("push channel disconnected", "error", err, "retry_in", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "client closed")

	var writeMu sync.Mutex
	writeEnv := func(ctx context.Context, event, session string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		data, err := json.Marshal(roomPayload{SessionID: session})
		if err != nil {
			return err
		}
		return wsjson.Write(ctx, conn, envelope{Event: event, Data: data})
	}

	room := s.sessionID()
	if err := writeEnv(ctx, "join", room); err != nil {
		return err
	}
	s.logger.Info("push channel joined", "session_id", room)

	var roomMu sync.Mutex
	currentRoom := func() string {
		roomMu.Lock()
		defer roomMu.Unlock()
		return room
	}

	defer func() {
		// Best-effort leave so the server can drop the room membership.
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
		defer leaveCancel()
		_ = writeEnv(leaveCtx, "leave", currentRoom())
	}()

	// The session can move under a healthy connection (recovery, delete);
	// follow it by leaving the old room and joining the new one. A failed
	// switch closes the connection so the reconnect path re-joins.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		ticker := time.NewTicker(s.cfg.RoomPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				next := s.sessionID()
				prev := currentRoom()
				if next == "" || next == prev {
					continue
				}
				err := writeEnv(watchCtx, "leave", prev)
				if err == nil {
					// Switch the local room before the join frame goes
					// out, so events arriving right behind it carry the
					// new id.
					roomMu.Lock()
					room = next
					roomMu.Unlock()
					err = writeEnv(watchCtx, "join", next)
				}
				if err != nil {
					s.logger.Warn("room switch failed, forcing reconnect", "error", err)
					_ = conn.Close(websocket.StatusNormalClosure, "session changed")
					return
				}
				s.logger.Info("push channel re-joined", "session_id", next)
			}
		}
	}()

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		s.dispatch(currentRoom(), env)
	}
}

func (s *Subscriber) dispatch(sessionID string, env envelope) {
	switch env.Event {
	case "chat_message":
		var p chatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.logger.Debug("dropping undecodable chat event", "error", err)
			return
		}
		if p.Response == "" {
			return
		}
		s.sink.HandleChatMessage(sessionID, p.Response)
	case "sequence_update":
		s.sink.HandleSequenceUpdate(sessionID, env.Data)
	default:
		s.logger.Debug("ignoring unknown push event", "event", env.Event)
	}
}
