package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/runner"
)

// originAllowed reports whether a browser origin may open a WebSocket.
// Non-browser clients send no Origin and are always allowed.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
}

const wsWriteTimeout = 10 * time.Second

// handleWebSocket runs each text message as a /run body and replies with
// the run response, one message at a time. A disconnect cancels the
// execution in progress. When the server shuts down the session ends
// after the current execution, or at once if it is idle.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads happen on their own goroutine so a close frame is noticed
	// while an execution is running.
	messages := make(chan []byte)
	go func() {
		defer close(messages)
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket read error", zap.Error(err))
				}
				return
			}
			select {
			case messages <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-messages:
			if !ok {
				return
			}
			reply, ok := s.processWebSocketMessage(ctx, data)
			if !ok {
				return
			}
			if err := wsWriteJSON(conn, reply); err != nil {
				s.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-s.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// processWebSocketMessage returns the reply for one message, or false when
// the connection went away during execution.
func (s *Server) processWebSocketMessage(ctx context.Context, data []byte) (any, bool) {
	req, err := runner.DecodeRequest(bytes.NewReader(data))
	if err != nil {
		return errorReply(err), true
	}
	res, err := s.runner.Handle(ctx, req)
	if ctx.Err() != nil {
		return nil, false
	}
	if err != nil {
		return errorReply(err), true
	}
	return res.Response, true
}

func errorReply(err error) any {
	var verr *runner.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return map[string]string{"error": err.Error()}
}

func wsWriteJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
