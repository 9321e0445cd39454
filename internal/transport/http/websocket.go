package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rkmjld2/mahajan-remote2/internal/message"
	"github.com/rkmjld2/mahajan-remote2/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Event is a client → server WebSocket text frame. Binary frames carry a
// voice capture instead.
type Event struct {
	Type   string `json:"type"` // health, press, command, status
	Action string `json:"action,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Reply is a server → client WebSocket frame.
type Reply struct {
	Type        string               `json:"type"` // connected, interaction, status, error
	SessionID   string               `json:"session_id,omitempty"`
	Status      string               `json:"status,omitempty"`
	Interaction *message.Interaction `json:"interaction,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(reply Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(reply)
}

// websocket serves GET /ws. The connection owns one session, torn down
// (cancelling any interaction in flight) when the connection closes.
func (h *handlers) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxAudio)

	s := h.sessions.CreateOwned()
	defer h.sessions.Remove(s.ID())
	logger := slog.With("session_id", s.ID())

	c := &wsConn{conn: conn}
	if err := c.send(Reply{Type: "connected", SessionID: s.ID()}); err != nil {
		logger.Warn("websocket write failed", "error", err)
		return
	}

	// The request context ends when the handler returns; interactions are
	// bounded by the session instead.
	ctx := context.WithoutCancel(r.Context())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket closed unexpectedly", "error", err)
			}
			// Tear down before waiting so in-flight work is cancelled.
			h.sessions.Remove(s.ID())
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := handleFrame(ctx, s, kind, data)
			if err := c.send(reply); err != nil {
				logger.Debug("websocket write failed", "error", err)
			}
		}()
	}
}

func handleFrame(ctx context.Context, s *session.Session, kind int, data []byte) Reply {
	if kind == websocket.BinaryMessage {
		return interactionReply(s.Voice(ctx, data))
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Reply{Type: "error", Error: "invalid event: " + err.Error()}
	}

	switch ev.Type {
	case "health":
		return interactionReply(s.Health(ctx))
	case "press":
		action, ok := message.ParseAction(ev.Action)
		if !ok || action.IsNone() {
			return Reply{Type: "error", Error: "unknown action: " + ev.Action}
		}
		return interactionReply(s.Press(ctx, action))
	case "command":
		return interactionReply(s.Command(ctx, ev.Text))
	case "status":
		return Reply{Type: "status", SessionID: s.ID(), Status: s.Status()}
	default:
		return Reply{Type: "error", Error: "unknown event type: " + ev.Type}
	}
}

func interactionReply(it message.Interaction) Reply {
	return Reply{Type: "interaction", Interaction: &it}
}
