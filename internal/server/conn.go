package server

import (
	"io"
	"net"
	"time"
)

// Conn is the transport a peer is bound to. Reads deliver the raw byte
// stream to the peer's own handler; WriteFrame delivers one complete,
// newline-terminated frame. Both TCP and WebSocket peers satisfy it.
type Conn interface {
	io.Reader
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}

// tcpConn adapts a net.Conn.
type tcpConn struct {
	conn         net.Conn
	writeTimeout time.Duration
}

func newTCPConn(conn net.Conn, writeTimeout time.Duration) *tcpConn {
	return &tcpConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *tcpConn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// WriteFrame writes the whole frame; net.Conn keeps writing until every
// byte is sent or an error occurs.
func (c *tcpConn) WriteFrame(frame []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
