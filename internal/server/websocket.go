package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"mines/internal/auth"
	"mines/internal/game"
)

// intent is a client message: {"type": "reveal", "data": {...}}.
type intent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *FiberServer) wsHandler(conn *websocket.Conn) {
	claims, _ := conn.Locals(claimsKey).(*auth.Claims)
	if claims == nil {
		conn.Close()
		return
	}
	account := claims.Account()

	client := s.hub.Register(conn, account)
	defer s.hub.Unregister(client)

	ctx := context.Background()
	if view, err := s.engine.Active(ctx, account); err == nil {
		client.Send(event{Type: eventRound, Data: view})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("websocket closed", zap.String("account", account), zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		reply, broadcast := s.handleIntent(ctx, account, message)
		if broadcast {
			s.hub.Publish(account, reply)
			continue
		}
		if err := client.Send(reply); err != nil {
			s.log.Debug("websocket write failed", zap.String("account", account), zap.Error(err))
			return
		}
	}
}

// handleIntent runs one client message. Round changes are broadcast to
// every socket of the account; errors and pongs go to the sender only.
func (s *FiberServer) handleIntent(ctx context.Context, account string, raw []byte) (event, bool) {
	var in intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return s.errorEvent(account, errInvalidBody), false
	}

	var (
		view game.View
		err  error
	)
	switch in.Type {
	case "ping":
		return event{Type: eventPong}, false
	case "active":
		view, err = s.engine.Active(ctx, account)
		if err != nil {
			return s.errorEvent(account, err), false
		}
		return event{Type: eventRound, Data: view}, false
	case "start":
		var req game.StartRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return s.errorEvent(account, errInvalidBody), false
		}
		req.Account = account
		view, err = s.engine.Start(ctx, req)
	case "reveal":
		var req game.RevealRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return s.errorEvent(account, errInvalidBody), false
		}
		req.Account = account
		view, err = s.engine.Reveal(ctx, req)
	case "cashout":
		var req game.CashOutRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return s.errorEvent(account, errInvalidBody), false
		}
		req.Account = account
		view, err = s.engine.CashOut(ctx, req)
	default:
		return s.errorEvent(account, fmt.Errorf("%w: unknown message type %q", errInvalidBody, in.Type)), false
	}

	if err != nil {
		return s.errorEvent(account, err), false
	}
	return event{Type: eventRound, Data: view}, true
}

func (s *FiberServer) errorEvent(account string, err error) event {
	status, body := toAPIError(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error("websocket intent failed", zap.String("account", account), zap.Error(err))
	}
	return event{Type: eventError, Data: body}
}
