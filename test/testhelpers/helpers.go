// Package testhelpers provides common utilities and helper functions for testing the relay.
//
// It starts real relays on loopback ports and wraps raw TCP and WebSocket peers so the
// integration tests can speak the line-delimited protocol without repeating plumbing.
package testhelpers

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/server"
)

// TestOrigin is the browser origin every test relay allows.
const TestOrigin = "http://localhost:8080"

const ioTimeout = 3 * time.Second

// Relay is a running chat listener plus its HTTP side.
type Relay struct {
	Server *server.Server
	HTTP   *httptest.Server

	serveErr chan error
}

// StartRelay starts a relay on loopback. A nil cfg uses the defaults. The relay is shut
// down when the test ends unless the test already did so.
func StartRelay(t *testing.T, cfg *server.Config) *Relay {
	t.Helper()

	if cfg == nil {
		cfg = server.NewConfig()
	}
	cfg.ChatAddr = "127.0.0.1:0"
	cfg.AllowedOrigins = []string{TestOrigin}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := server.NewServer(cfg, logger)
	if err := s.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	r := &Relay{
		Server:   s,
		HTTP:     httptest.NewServer(s.Routes()),
		serveErr: make(chan error, 1),
	}
	go func() { r.serveErr <- s.Serve(context.Background()) }()

	t.Cleanup(func() {
		r.HTTP.Close()
		_ = s.Shutdown(2 * time.Second)
	})
	return r
}

// ChatAddr returns the TCP chat address.
func (r *Relay) ChatAddr() string {
	return r.Server.Addr().String()
}

// WebSocketURL returns the ws:// URL of the gateway.
func (r *Relay) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(r.HTTP.URL, "http") + "/ws"
}

// WaitServe returns the result of Serve, failing the test if it does not return in time.
func (r *Relay) WaitServe(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.serveErr:
		return err
	case <-time.After(ioTimeout):
		t.Fatal("Serve did not return")
		return nil
	}
}

// Peer is a test participant speaking the raw protocol.
type Peer interface {
	Send(t *testing.T, frame string)
	Next(t *testing.T) *protocol.Message
	Close() error
}

// TCPPeer is a raw TCP participant.
type TCPPeer struct {
	Conn   *net.TCPConn
	reader *bufio.Reader
}

// DialTCP connects a raw TCP peer to the relay.
func DialTCP(t *testing.T, r *Relay) *TCPPeer {
	t.Helper()

	conn, err := net.DialTimeout("tcp", r.ChatAddr(), ioTimeout)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &TCPPeer{Conn: conn.(*net.TCPConn), reader: bufio.NewReaderSize(conn, 64*1024)}
}

// Send writes frame followed by a newline.
func (p *TCPPeer) Send(t *testing.T, frame string) {
	t.Helper()
	p.SendRaw(t, []byte(frame+"\n"))
}

// SendRaw writes data exactly as given.
func (p *TCPPeer) SendRaw(t *testing.T, data []byte) {
	t.Helper()
	if _, err := p.Conn.Write(data); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

// NextRaw returns the next frame without its newline.
func (p *TCPPeer) NextRaw(t *testing.T) []byte {
	t.Helper()
	if err := p.Conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return line[:len(line)-1]
}

// Next decodes the next frame.
func (p *TCPPeer) Next(t *testing.T) *protocol.Message {
	t.Helper()
	return decode(t, p.NextRaw(t))
}

// ExpectClosed fails the test unless the relay closes the connection.
func (p *TCPPeer) ExpectClosed(t *testing.T) {
	t.Helper()
	if err := p.Conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	for {
		_, err := p.reader.ReadBytes('\n')
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.Fatal("Connection was not closed by the relay")
		}
		return
	}
}

// Abort resets the connection instead of closing it cleanly.
func (p *TCPPeer) Abort() error {
	if err := p.Conn.SetLinger(0); err != nil {
		return err
	}
	return p.Conn.Close()
}

func (p *TCPPeer) Close() error {
	return p.Conn.Close()
}

// WSPeer is a WebSocket participant.
type WSPeer struct {
	Conn *websocket.Conn
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection, the handshake response and any dial error.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// DialWebSocket connects a WebSocket peer through the relay's gateway.
func DialWebSocket(t *testing.T, r *Relay) *WSPeer {
	t.Helper()

	conn, _, err := ConnectWebSocket(r.WebSocketURL(), TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &WSPeer{Conn: conn}
}

// Send writes frame as one text message.
func (p *WSPeer) Send(t *testing.T, frame string) {
	t.Helper()
	if err := p.Conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

// Next decodes the next message.
func (p *WSPeer) Next(t *testing.T) *protocol.Message {
	t.Helper()
	if err := p.Conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	_, data, err := p.Conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return decode(t, []byte(strings.TrimSuffix(string(data), "\n")))
}

// Close sends a close frame and closes the connection.
func (p *WSPeer) Close() error {
	err := p.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return p.Conn.Close()
}

// Join sends a join for name and consumes the relay's join and user-list replies.
func Join(t *testing.T, p Peer, name string) []string {
	t.Helper()
	p.Send(t, `{"username":"`+name+`","kind":"join"}`)
	ExpectKind(t, p.Next(t), protocol.KindJoin, name)
	list := p.Next(t)
	ExpectKind(t, list, protocol.KindUserList, protocol.UserListSender)
	return list.Names()
}

// ExpectKind fails the test unless msg has the given kind and sender.
func ExpectKind(t *testing.T, msg *protocol.Message, kind protocol.Kind, username string) {
	t.Helper()
	if msg.Kind != kind || msg.Username != username {
		t.Fatalf("Expected %s from %q, got %s from %q", kind, username, msg.Kind, msg.Username)
	}
}

// ExpectNames fails the test unless got matches want in order.
func ExpectNames(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Expected users %v, got %v", want, got)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

func decode(t *testing.T, frame []byte) *protocol.Message {
	t.Helper()
	msg, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Failed to decode %q: %v", frame, err)
	}
	return msg
}
