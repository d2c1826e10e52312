// Package api is the websocket surface of the duel engine: it authenticates
// the connection, binds it into the registry, and pumps client messages into
// the orchestrator.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/duel"
	"github.com/quizduel/backend/internal/errors"
	"github.com/quizduel/backend/internal/identity"
	"github.com/quizduel/backend/internal/registry"
	"github.com/quizduel/backend/internal/telemetry"
)

type Config struct {
	Registry   *registry.Registry
	Duel       *duel.Service
	Supervisor *duel.Supervisor
	Identity   identity.Resolver
	Metrics    *telemetry.Metrics
}

type API struct {
	registry   *registry.Registry
	duel       *duel.Service
	supervisor *duel.Supervisor
	identity   identity.Resolver
	metrics    *telemetry.Metrics
	upgrader   websocket.Upgrader
}

func New(c Config) *API {
	return &API{
		registry:   c.Registry,
		duel:       c.Duel,
		supervisor: c.Supervisor,
		identity:   c.Identity,
		metrics:    c.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the websocket endpoint.
func (a *API) Register(e *gin.Engine) {
	e.GET("/ws", a.handleWS)
}

// inbound is the client->server envelope; payload decoding is deferred until
// the type is known.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	SessionID     string `json:"sessionId"`
	QuestionOrder int    `json:"questionOrder"`
	Answer        string `json:"answer"`
}

func (a *API) handleWS(c *gin.Context) {
	ctx := c.Request.Context()

	// Identity is resolved before any core state exists for the connection;
	// a failed resolve rejects the upgrade outright.
	id, err := a.identity.Resolve(c.Request)
	if err != nil {
		e := errors.Convert(err)
		slog.WarnContext(ctx, "api: connection rejected", "error", err)
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	// Echo the subprotocol carrying the token so browser clients complete
	// the handshake.
	respHeader := http.Header{}
	if proto := identity.TokenFromRequest(c.Request); proto != "" && c.Request.URL.Query().Get("token") == "" {
		respHeader.Set("Sec-WebSocket-Protocol", proto)
	}

	sock, err := a.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		slog.ErrorContext(ctx, "api: websocket upgrade failed", "player", id.PlayerID, "error", err)
		return
	}

	conn := newConn(sock)
	prev, replaced := a.registry.Bind(id.PlayerID, conn)
	if replaced {
		// The old handle is stale for sending from this point on.
		_ = prev.Close()
	}
	a.metrics.SetPlayersConnected(a.registry.Len())

	slog.InfoContext(ctx, "api: player connected", "player", id.PlayerID, "username", id.Username)

	// Reconnect within the grace period keeps the session alive.
	a.supervisor.OnReconnect(ctx, id.PlayerID)

	a.readLoop(id, conn, sock)
}

// readLoop serializes a single connection's inbound events. Malformed
// messages are dropped with a warning and an error notification; only
// transport-level failures end the loop.
func (a *API) readLoop(id domain.Identity, conn *wsConn, sock *websocket.Conn) {
	defer func() {
		_ = conn.Close()

		// CAS unbind: if a newer binding replaced this connection, the
		// player never really left and the supervisor must not see a
		// disconnect.
		if a.registry.Unbind(id.PlayerID, conn) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			slog.InfoContext(ctx, "api: player disconnected", "player", id.PlayerID)
			a.supervisor.OnDisconnect(ctx, id.PlayerID)
		}
		a.metrics.SetPlayersConnected(a.registry.Len())
	}()

	ctx := context.Background()

	for {
		var msg inbound
		if err := sock.ReadJSON(&msg); err != nil {
			if isTransportError(err) {
				return
			}

			slog.WarnContext(ctx, "api: dropping malformed message", "player", id.PlayerID, "error", err)
			a.sendError(id.PlayerID, conn, "malformed message")
			continue
		}

		a.dispatch(ctx, id, conn, msg)
	}
}

func (a *API) dispatch(ctx context.Context, id domain.Identity, conn *wsConn, msg inbound) {
	switch msg.Type {
	case duel.TypeJoinMatchmaking:
		if err := a.duel.Join(ctx, id); err != nil {
			a.reportError(ctx, id.PlayerID, conn, msg.Type, err)
		}

	case duel.TypeLeaveMatchmaking:
		a.duel.Leave(ctx, id.PlayerID)

	case duel.TypeAnswerQuestion:
		var p answerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			slog.WarnContext(ctx, "api: dropping malformed answer payload", "player", id.PlayerID, "error", err)
			a.sendError(id.PlayerID, conn, "malformed answer_question payload")
			return
		}

		if err := a.duel.SubmitAnswer(ctx, id.PlayerID, p.SessionID, p.QuestionOrder, p.Answer); err != nil {
			a.reportError(ctx, id.PlayerID, conn, msg.Type, err)
		}

	default:
		slog.WarnContext(ctx, "api: unknown message type", "player", id.PlayerID, "type", msg.Type)
		a.sendError(id.PlayerID, conn, "unknown message type: "+msg.Type)
	}
}

// reportError surfaces a handler error to the player. Stale-question
// rejections are deliberate no-ops and stay quiet.
func (a *API) reportError(ctx context.Context, playerID string, conn *wsConn, msgType string, err error) {
	if errors.HasCode(err, errors.CodeFailedPrecondition) {
		return
	}

	slog.WarnContext(ctx, "api: request failed",
		"player", playerID,
		"type", msgType,
		"error", err,
	)
	a.sendError(playerID, conn, errors.Convert(err).Message)
}

func (a *API) sendError(playerID string, conn *wsConn, message string) {
	if err := conn.Send(duel.Message{Type: duel.TypeError, Payload: duel.ErrorPayload{Message: message}}); err != nil {
		slog.Warn("api: error notification failed", "player", playerID, "error", err)
	}
}

func isTransportError(err error) bool {
	if _, ok := err.(*websocket.CloseError); ok {
		return true
	}
	if _, ok := err.(*json.SyntaxError); ok {
		return false
	}
	if _, ok := err.(*json.UnmarshalTypeError); ok {
		return false
	}
	// Read errors other than JSON decode failures mean the connection is gone.
	return true
}
