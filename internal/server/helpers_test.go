package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

var errBrokenPipe = errors.New("write: broken pipe")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingConn is an in-memory Conn. Reads come from an optional pipe;
// written frames are recorded.
type recordingConn struct {
	reader *io.PipeReader

	mu         sync.Mutex
	frames     []string
	failWrites bool
	closeCalls int
}

func newRecordingConn() *recordingConn {
	return &recordingConn{}
}

// newPipedConn returns a conn whose reads come from the returned writer.
func newPipedConn() (*recordingConn, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &recordingConn{reader: pr}, pw
}

func (c *recordingConn) Read(p []byte) (int, error) {
	if c.reader == nil {
		return 0, io.EOF
	}
	return c.reader.Read(p)
}

func (c *recordingConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failWrites || c.closeCalls > 0 {
		return errBrokenPipe
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()

	if c.reader != nil {
		_ = c.reader.CloseWithError(io.ErrClosedPipe)
	}
	return nil
}

func (c *recordingConn) RemoteAddr() string {
	return "pipe"
}

func (c *recordingConn) setFailWrites(fail bool) {
	c.mu.Lock()
	c.failWrites = fail
	c.mu.Unlock()
}

func (c *recordingConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *recordingConn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// Messages decodes every recorded frame.
func (c *recordingConn) Messages(t *testing.T) []*protocol.Message {
	t.Helper()
	frames := c.Frames()
	msgs := make([]*protocol.Message, 0, len(frames))
	for _, frame := range frames {
		require.Equal(t, byte('\n'), frame[len(frame)-1], "frame must end with a newline")
		msg, err := protocol.Decode([]byte(frame[:len(frame)-1]))
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

// waitForFrames blocks until conn has recorded at least n frames.
func waitForFrames(t *testing.T, conn *recordingConn, n int) []*protocol.Message {
	t.Helper()
	ok := assert.Eventually(t, func() bool {
		return len(conn.Frames()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	if !ok {
		frames := conn.Frames()
		require.FailNow(t, fmt.Sprintf("expected %d frames, got %d", n, len(frames)), "frames: %q", frames)
	}
	return conn.Messages(t)
}

type kindBody struct {
	kind protocol.Kind
	user string
	body string
}

func summarize(msgs []*protocol.Message) []kindBody {
	out := make([]kindBody, len(msgs))
	for i, msg := range msgs {
		out[i] = kindBody{kind: msg.Kind, user: msg.Username, body: msg.Body}
	}
	return out
}

func joinedPeer(t *testing.T, registry *Registry, name string) (*Peer, *recordingConn) {
	t.Helper()
	conn := newRecordingConn()
	peer := newPeer(conn)
	peer.setName(name)
	require.True(t, registry.Insert(peer))
	return peer, conn
}
