package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/doeshing/opsai/internal/domain"
)

type executionRef struct {
	ExecutionID string `json:"executionId"`
}

type chatRequest struct {
	Message  string `json:"message"`
	ServerID string `json:"serverId"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"user_id": user.ID, "error": err.Error()})
		return
	}

	c := newClient(s.deps.Hub, conn, user)
	s.deps.Hub.register(c)
	s.logger.Info("websocket connected", map[string]interface{}{"user_id": user.ID, "remote": r.RemoteAddr})

	go c.writePump()
	s.readPump(c)
}

// readPump decodes inbound frames until the socket closes. Each accepted
// action runs on its own goroutine so a long pipeline never blocks the
// socket.
func (s *Server) readPump(c *client) {
	defer func() {
		s.deps.Hub.unregister(c)
		s.logger.Info("websocket disconnected", map[string]interface{}{"user_id": c.user.ID})
	}()

	limiter := rate.NewLimiter(rate.Limit(s.opts.ActionsPerSecond), s.opts.ActionBurst)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(domain.EventError, domain.ErrorPayload{Message: "malformed frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", map[string]interface{}{"user_id": c.user.ID, "error": err.Error()})
			}
			return
		}
		if !limiter.Allow() {
			c.reply(domain.EventError, domain.ErrorPayload{Message: "rate limit exceeded, slow down"})
			continue
		}
		s.dispatch(c, frame)
	}
}

func (s *Server) dispatch(c *client, frame Frame) {
	var action func(ctx context.Context) error

	switch frame.Event {
	case domain.ActionExecute:
		var req domain.ExecuteRequest
		if !decodeData(c, frame, &req) {
			return
		}
		action = func(ctx context.Context) error {
			_, err := s.deps.Orchestrator.Execute(ctx, c.user, req)
			return err
		}
	case domain.ActionConfirm, domain.ActionCancel, domain.ActionOverride:
		var ref executionRef
		if !decodeData(c, frame, &ref) {
			return
		}
		step := s.deps.Orchestrator.Confirm
		switch frame.Event {
		case domain.ActionCancel:
			step = s.deps.Orchestrator.Cancel
		case domain.ActionOverride:
			step = s.deps.Orchestrator.Override
		}
		action = func(ctx context.Context) error {
			_, err := step(ctx, c.user, ref.ExecutionID)
			return err
		}
	case domain.ActionChat:
		var req chatRequest
		if !decodeData(c, frame, &req) {
			return
		}
		action = func(ctx context.Context) error {
			_, err := s.deps.Orchestrator.Chat(ctx, c.user, req.Message, req.ServerID)
			return err
		}
	default:
		c.reply(domain.EventError, domain.ErrorPayload{Message: "unknown event: " + frame.Event})
		return
	}

	s.actions.Add(1)
	go func() {
		defer s.actions.Done()
		// The orchestrator has already reported failures to the user.
		if err := action(context.Background()); err != nil {
			s.logger.Debug("websocket action failed", map[string]interface{}{"event": frame.Event, "user_id": c.user.ID, "error": err.Error()})
		}
	}()
}

func decodeData(c *client, frame Frame, v any) bool {
	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		c.reply(domain.EventError, domain.ErrorPayload{Message: "missing data for " + frame.Event})
		return false
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		c.reply(domain.EventError, domain.ErrorPayload{Message: "malformed data for " + frame.Event})
		return false
	}
	return true
}
