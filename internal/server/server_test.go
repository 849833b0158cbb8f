package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

func startTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = NewConfig()
	}
	cfg.ChatAddr = "127.0.0.1:0"

	s := NewServer(cfg, discardLogger())
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = s.Shutdown(2 * time.Second)
		assert.ErrorIs(t, <-errCh, ErrServerClosed)
	})
	return s
}

type tcpPeer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTCP(t *testing.T, s *Server) *tcpPeer {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &tcpPeer{conn: conn, reader: bufio.NewReader(conn)}
}

func (p *tcpPeer) write(t *testing.T, line string) {
	t.Helper()
	_, err := p.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (p *tcpPeer) next(t *testing.T) *protocol.Message {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := p.reader.ReadBytes('\n')
	require.NoError(t, err)
	msg, err := protocol.Decode(line[:len(line)-1])
	require.NoError(t, err)
	return msg
}

func TestServerRelaysOverTCP(t *testing.T) {
	s := startTestServer(t, nil)

	a := dialTCP(t, s)
	a.write(t, `{"username":"A","kind":"join"}`)
	assert.Equal(t, protocol.KindJoin, a.next(t).Kind)
	assert.Equal(t, "A", a.next(t).Body)

	b := dialTCP(t, s)
	b.write(t, `{"username":"B","kind":"join"}`)
	for _, p := range []*tcpPeer{a, b} {
		join := p.next(t)
		assert.Equal(t, kindBody{protocol.KindJoin, "B", ""}, summarize([]*protocol.Message{join})[0])
		assert.Equal(t, []string{"A", "B"}, p.next(t).Names())
	}

	b.write(t, `{"username":"B","kind":"text","message":"hello"}`)
	for _, p := range []*tcpPeer{a, b} {
		msg := p.next(t)
		assert.Equal(t, protocol.KindText, msg.Kind)
		assert.Equal(t, "hello", msg.Body)
	}

	require.NoError(t, b.conn.Close())
	assert.Equal(t, kindBody{protocol.KindLeave, "B", ""}, summarize([]*protocol.Message{a.next(t)})[0])
	assert.Equal(t, []string{"A"}, a.next(t).Names())

	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerWebSocketGatewaySharesRoom(t *testing.T) {
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{"http://chat.example"}
	s := startTestServer(t, cfg)

	httpSrv := httptest.NewServer(s.Routes())
	defer httpSrv.Close()

	tcp := dialTCP(t, s)
	tcp.write(t, `{"username":"tcp","kind":"join"}`)
	tcp.next(t)
	tcp.next(t)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://chat.example"}}
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer ws.Close()
	defer resp.Body.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"username":"web","kind":"join"}`)))
	assert.Equal(t, "web", tcp.next(t).Username)
	assert.Equal(t, []string{"tcp", "web"}, tcp.next(t).Names())

	tcp.write(t, `{"username":"tcp","kind":"text","message":"hi web"}`)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []*protocol.Message
	for len(got) < 3 {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		msg, err := protocol.Decode(data[:len(data)-1])
		require.NoError(t, err)
		got = append(got, msg)
	}
	assert.Equal(t, protocol.KindText, got[2].Kind)
	assert.Equal(t, "hi web", got[2].Body)
}

func TestServerWebSocketRejectsForeignOrigin(t *testing.T) {
	s := startTestServer(t, nil)
	httpSrv := httptest.NewServer(s.Routes())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(nil, discardLogger())
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "Chat Server is running!", string(body))

	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ws", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	cfg := NewConfig()
	cfg.ChatAddr = "127.0.0.1:0"
	s := NewServer(cfg, discardLogger())
	require.NoError(t, s.Listen())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background()) }()

	a := dialTCP(t, s)
	a.write(t, `{"username":"A","kind":"join"}`)
	a.next(t)
	a.next(t)

	require.NoError(t, s.Shutdown(2*time.Second))
	assert.ErrorIs(t, <-errCh, ErrServerClosed)
	assert.Zero(t, s.ConnectionCount())
	assert.Zero(t, s.Registry().Count())

	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := a.reader.ReadBytes('\n')
	assert.ErrorIs(t, err, io.EOF)

	_, err = net.Dial("tcp", s.Addr().String())
	assert.Error(t, err, "listener must be closed after shutdown")
	assert.ErrorIs(t, s.Listen(), ErrServerClosed)
}
