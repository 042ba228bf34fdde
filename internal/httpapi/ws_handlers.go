package httpapi

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/doorforge/quotecontrol/internal/autopilot"
	"github.com/doorforge/quotecontrol/internal/metrics"
	"github.com/doorforge/quotecontrol/internal/model"
	"github.com/doorforge/quotecontrol/internal/wsconn"
)

// wsPrepare enforces "one live connection per token": 409 if the
// token's session already has a connection registered under this
// token's access key.
func (s *Server) wsPrepare() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		sess := sessionFromCtx(c)
		tok := tokenFromCtx(c)
		if s.sessions.HasConnection(sess, tok.Access) {
			return fiber.NewError(fiber.StatusConflict, "This session already has a live connection")
		}

		c.Locals("qc_ws_session", sess)
		c.Locals("qc_ws_token", tok.Access)
		return c.Next()
	}
}

func (s *Server) handleUserWS() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		sess := c.Locals("qc_ws_session").(*model.Session)
		tokenKey := c.Locals("qc_ws_token").(string)

		metrics.WebSocketConnections.WithLabelValues("user").Inc()
		defer metrics.WebSocketConnections.WithLabelValues("user").Dec()

		wsconn.Serve(context.Background(), c, sess, tokenKey, s.wsConfig(), userDispatcher{}, s.sessions, s.log)
	})
}

func (s *Server) handleAutopilotWS() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		sess := c.Locals("qc_ws_session").(*model.Session)
		tokenKey := c.Locals("qc_ws_token").(string)

		inst := s.autopilots.Connect(tokenKey)
		metrics.WebSocketConnections.WithLabelValues("autopilot").Inc()
		defer func() {
			s.autopilots.Disconnect(tokenKey)
			metrics.WebSocketConnections.WithLabelValues("autopilot").Dec()
		}()

		stop := make(chan struct{})
		defer close(stop)
		go forwardAssignments(c, inst, stop)

		wsconn.Serve(context.Background(), c, sess, tokenKey, s.wsConfig(), autopilotDispatcher{manager: s.autopilots, token: tokenKey}, s.sessions, s.log)
	})
}

// forwardAssignments pushes dispatched task ids to the autopilot over
// the wire as they arrive on the instance's Assigned channel.
func forwardAssignments(c *websocket.Conn, inst *autopilot.Instance, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case taskID := <-inst.Assigned:
			msg := map[string]any{"type": "dispatch", "task_id": taskID}
			if err := c.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsConfig() wsconn.Config {
	api := s.cfg.Server.API
	return wsconn.Config{
		Heartbeat:       api.HeartbeatInterval(),
		MaxMessageBytes: int(api.MaxMessageBytes()),
		MessageLimit:    api.WSMessageLimit,
		MessageInterval: api.MessageWindow(),
	}
}

// userDispatcher handles the generic user-facing message protocol: it
// requires a string "type" field and otherwise accepts the frame
// without replying ("ping" included), extensible per process_message's
// missing-field/invalid-type/invalid-value taxonomy.
type userDispatcher struct{}

func (userDispatcher) Dispatch(ctx context.Context, token string, msg map[string]any) *wsconn.ProtocolError {
	msgType, perr := wsconn.RequireString(msg, "type")
	if perr != nil {
		return perr
	}
	switch msgType {
	case "ping":
		return nil
	default:
		return nil
	}
}

// autopilotDispatcher handles the autopilot completion protocol: an
// {"type":"ack","task_id":N} frame clears the instance's current task
// and lets the scheduler dispatch the next one.
type autopilotDispatcher struct {
	manager *autopilot.Manager
	token   string
}

func (d autopilotDispatcher) Dispatch(ctx context.Context, token string, msg map[string]any) *wsconn.ProtocolError {
	msgType, perr := wsconn.RequireString(msg, "type")
	if perr != nil {
		return perr
	}
	if msgType != "ack" {
		return nil
	}

	if _, perr := wsconn.RequireInt(msg, "task_id"); perr != nil {
		return perr
	}

	d.manager.Ack(d.token)
	return nil
}
