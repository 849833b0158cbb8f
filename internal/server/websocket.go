package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// wsConn adapts a WebSocket connection to Conn. Each inbound text message
// is surfaced as one newline-terminated frame, so browser peers go through
// the same assembler and state machine as TCP peers.
type wsConn struct {
	conn         *websocket.Conn
	pending      []byte
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration, maxFrameSize int) *wsConn {
	if maxFrameSize > 0 {
		conn.SetReadLimit(int64(maxFrameSize))
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.pending = append(data, '\n')
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// WriteFrame sends the frame as one text message. Callers serialize writes
// through Peer.Send, which gorilla/websocket requires.
func (c *wsConn) WriteFrame(frame []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a best-effort close frame before closing the socket.
func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func isNormalWebSocketClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

func newUpgrader(policy *originPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     policy.checkOrigin,
	}
}

// WebSocketHandler upgrades the request and runs the resulting peer until
// it disconnects. It only accepts GET requests.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	s.serveConn(newWSConn(conn, s.cfg.WriteTimeout, s.cfg.MaxFrameSize))
}
