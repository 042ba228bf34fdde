package wsconn

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/doorforge/quotecontrol/internal/metrics"
	"github.com/doorforge/quotecontrol/internal/model"
	"github.com/doorforge/quotecontrol/internal/ratelimit"
)

// Config carries the per-connection parameters derived from
// server.api's ws_* settings.
type Config struct {
	Heartbeat       time.Duration
	MaxMessageBytes int
	MessageLimit    int
	MessageInterval time.Duration
}

// Dispatcher processes one parsed JSON frame for a connection. It
// returns nil to keep the connection open, or a ProtocolError to close
// the connection with that error's code and reason.
type Dispatcher interface {
	Dispatch(ctx context.Context, token string, msg map[string]any) *ProtocolError
}

// ConnRegistry is the narrow locking surface Serve needs to register
// and deregister a connection on a session shared with the sweeper.
// The session registry implements it; Serve must never touch
// sess.Connections directly, since the sweeper iterates that same map
// under the registry's own lock.
type ConnRegistry interface {
	AttachConnection(sess *model.Session, key string, conn model.ConnectionCloser) bool
	DetachConnection(sess *model.Session, key string)
}

// connKey is the fixed ratelimit bucket key for a single connection's
// own message limiter — one limiter instance per connection, so no
// cross-connection key derivation is needed.
const connKey = "conn"

// Connection wraps one upgraded WebSocket and satisfies
// model.ConnectionCloser so the session registry's sweeper can force
// it closed without depending on this package's concrete type.
type Connection struct {
	conn    *websocket.Conn
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

func newConnection(c *websocket.Conn, cfg Config, log zerolog.Logger) *Connection {
	c.SetReadLimit(int64(cfg.MaxMessageBytes))
	return &Connection{
		conn: c,
		limiter: ratelimit.NewLimiter(ratelimit.Policy{
			Limit:    cfg.MessageLimit,
			Interval: cfg.MessageInterval,
			Bucket:   ratelimit.BucketToken,
		}),
		log: log,
	}
}

// Close implements model.ConnectionCloser by writing a close frame with
// code and reason. It may be called more than once; a WriteControl
// error (for example on an already-closed socket) is returned to the
// caller, which logs it.
func (c *Connection) Close(code int, reason string) error {
	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	return c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

// Serve runs the message loop for one connection until the socket
// closes, the context is cancelled, or the dispatcher (or the
// per-connection ratelimit) asks for teardown with a specific close
// code. It always pops the connection from session.Connections and
// issues the appropriate close frame before returning, per the
// teardown contract.
func Serve(ctx context.Context, c *websocket.Conn, sess *model.Session, tokenKey string, cfg Config, dispatcher Dispatcher, registry ConnRegistry, log zerolog.Logger) {
	conn := newConnection(c, cfg, log)
	if !registry.AttachConnection(sess, tokenKey, conn) {
		// wsPrepare already rejected a known duplicate connection before
		// upgrading; losing this race means another connection won the
		// slot between that check and here, so just close and bail.
		log.Warn().Str("session_id", sess.ID).Msg("connection slot already occupied, closing")
		_ = conn.Close(PolicyViolation, "This session already has a live connection")
		return
	}

	closeCode := websocket.CloseNormalClosure
	closeReason := ""
	weInitiatedClose := false

	defer func() {
		registry.DetachConnection(sess, tokenKey)
		if weInitiatedClose {
			if err := conn.Close(closeCode, closeReason); err != nil {
				log.Error().Err(err).Msg("failed to close websocket connection during teardown")
			}
		}
		metrics.WebSocketCloses.WithLabelValues(strconv.Itoa(closeCode)).Inc()
		log.Info().Int("close_code", closeCode).Str("reason", closeReason).Msg("websocket connection torn down")
	}()

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go heartbeat(c, cfg.Heartbeat, stopHeartbeat, log)

	for {
		if ctx.Err() != nil {
			weInitiatedClose = true
			return
		}

		msgType, raw, err := c.ReadMessage()
		if err != nil {
			// The socket is already gone — either the peer closed it or
			// the sweeper force-closed it with a custom code; either way
			// a close frame was already exchanged, so don't send another.
			if ce, ok := err.(*websocket.CloseError); ok {
				closeCode = ce.Code
			}
			return
		}

		if allowed, _ := conn.limiter.Allow(connKey); !allowed {
			closeCode = PolicyViolation
			closeReason = "message rate limit exceeded"
			weInitiatedClose = true
			return
		}

		if msgType != websocket.TextMessage {
			closeCode = CloseInvalidFrameType
			closeReason = "only text frames are accepted"
			weInitiatedClose = true
			return
		}

		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			closeCode = CloseInvalidJSON
			closeReason = "malformed JSON frame"
			weInitiatedClose = true
			return
		}
		metrics.WebSocketMessages.WithLabelValues("inbound").Inc()

		if perr := dispatcher.Dispatch(ctx, tokenKey, parsed); perr != nil {
			closeCode = perr.Code
			closeReason = perr.Reason
			weInitiatedClose = true
			return
		}
	}
}

func heartbeat(c *websocket.Conn, interval time.Duration, stop <-chan struct{}, log zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// Send writes a JSON payload to the connection as a text frame.
func (c *Connection) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	metrics.WebSocketMessages.WithLabelValues("outbound").Inc()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
