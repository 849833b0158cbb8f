package server

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var errPeerClosed = errors.New("peer connection closed")

// Peer is one accepted connection. Its identifier is assigned at accept
// time and never changes; its name is empty until a join is processed.
type Peer struct {
	id   string
	conn Conn

	mu   sync.RWMutex
	name string

	// sendMu serializes frames from concurrent broadcasts so they never
	// interleave on the wire.
	sendMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newPeer(conn Conn) *Peer {
	return &Peer{
		id:     uuid.NewString(),
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// ID returns the peer's opaque identifier.
func (p *Peer) ID() string {
	return p.id
}

// Name returns the display name, or "" before join.
func (p *Peer) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *Peer) setName(name string) {
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
}

// Addr returns the remote address for logging.
func (p *Peer) Addr() string {
	return p.conn.RemoteAddr()
}

// Send writes one frame to the peer.
func (p *Peer) Send(frame []byte) error {
	select {
	case <-p.closed:
		return errPeerClosed
	default:
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.conn.WriteFrame(frame)
}

// Close closes the underlying connection. Only the first call has an
// effect; later calls return the first call's result.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// Done is closed once the peer's connection has been closed.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}
