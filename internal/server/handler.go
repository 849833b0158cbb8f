package server

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// connState is the lifecycle of one connection.
type connState int

const (
	// stateConnected: accepted, no join processed yet.
	stateConnected connState = iota
	// stateJoined: named and present in the registry.
	stateJoined
	// stateClosed is terminal.
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connHandler owns one peer's receive loop. Everything after a read
// (decode, registry mutation, broadcast) runs synchronously on the
// handler's goroutine, so frames from one connection are relayed in the
// order they arrived.
type connHandler struct {
	peer        *Peer
	registry    *Registry
	broadcaster *Broadcaster
	assembler   *protocol.Assembler
	limiter     *rateLimiter
	rateLimit   RateLimitConfig
	readBufSize int
	state       connState
	logger      *slog.Logger
}

func newConnHandler(peer *Peer, registry *Registry, broadcaster *Broadcaster, cfg Config, logger *slog.Logger) *connHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &connHandler{
		peer:        peer,
		registry:    registry,
		broadcaster: broadcaster,
		assembler:   protocol.NewAssembler(cfg.MaxFrameSize),
		limiter:     newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:   cfg.RateLimit,
		readBufSize: cfg.ReadBufferSize,
		state:       stateConnected,
		logger:      logger.With("peer", peer.ID(), "addr", peer.Addr()),
	}
}

// run reads until the connection fails or the peer shuts down, then
// performs the closing transition.
func (h *connHandler) run() {
	defer h.close()

	buf := make([]byte, h.readBufSize)
	for {
		n, err := h.peer.conn.Read(buf)
		if n > 0 && !h.consume(buf[:n]) {
			return
		}
		if err != nil {
			h.logReadError(err)
			return
		}
		if n == 0 {
			h.logger.Info("peer shut down the connection")
			return
		}
	}
}

// consume feeds received bytes through the assembler and handles every
// completed frame. It returns false when the connection must be dropped.
func (h *connHandler) consume(data []byte) bool {
	frames, err := h.assembler.Feed(data)
	for _, frame := range frames {
		h.handleFrame(frame)
	}
	if err != nil {
		h.logger.Warn("dropping connection", "error", err)
		return false
	}
	return true
}

func (h *connHandler) handleFrame(frame []byte) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return
	}

	if !h.limiter.allow() {
		h.logger.Warn("rate limit exceeded; discarding frame",
			"burst", h.rateLimit.Burst, "interval", h.rateLimit.RefillInterval)
		return
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			h.logger.Warn("discarding frame with unknown kind", "error", err)
		} else {
			h.logger.Warn("discarding malformed frame", "error", err)
		}
		return
	}

	h.dispatch(msg, frame)
}

func (h *connHandler) dispatch(msg *protocol.Message, frame []byte) {
	switch h.state {
	case stateConnected:
		if msg.Kind != protocol.KindJoin {
			h.logger.Warn("rejecting frame before join", "kind", msg.Kind)
			return
		}
		h.join(msg)

	case stateJoined:
		switch msg.Kind {
		case protocol.KindJoin:
			h.logger.Warn("ignoring repeated join", "name", h.peer.Name(), "requested", msg.Username)
		case protocol.KindText, protocol.KindFileInfo:
			h.broadcast(msg)
		case protocol.KindFileChunk:
			h.broadcaster.BroadcastRaw(frame)
		default:
			h.logger.Warn("rejecting server-originated kind from peer", "kind", msg.Kind)
		}
	}
}

func (h *connHandler) join(msg *protocol.Message) {
	name := strings.TrimSpace(msg.Username)
	if name == "" {
		h.logger.Warn("rejecting join without a username")
		return
	}
	if strings.Contains(name, ",") {
		h.logger.Warn("rejecting join with a comma in the username", "name", name)
		return
	}

	h.peer.setName(name)
	if !h.registry.Insert(h.peer) {
		h.logger.Error("peer already registered", "name", name)
		return
	}
	h.state = stateJoined
	h.logger.Info("user joined", "name", name)

	h.broadcast(protocol.NewJoin(name))
	h.broadcastUserList()
}

// close is the transition into stateClosed. Only a joined peer is
// announced; the connection is closed last.
func (h *connHandler) close() {
	wasJoined := h.state == stateJoined
	h.state = stateClosed

	h.registry.Remove(h.peer.ID())

	if wasJoined {
		name := h.peer.Name()
		h.logger.Info("user left", "name", name)
		h.broadcast(protocol.NewLeave(name))
		h.broadcastUserList()
	}

	if err := h.peer.Close(); err != nil && !isExpectedCloseError(err) {
		h.logger.Warn("error closing connection", "error", err)
	}
}

func (h *connHandler) broadcast(msg *protocol.Message) {
	if _, err := h.broadcaster.Broadcast(msg); err != nil {
		h.logger.Error("broadcast failed", "kind", msg.Kind, "error", err)
	}
}

func (h *connHandler) broadcastUserList() {
	h.broadcast(protocol.NewUserList(h.registry.Names()))
}

func (h *connHandler) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), isNormalWebSocketClose(err):
		h.logger.Info("peer disconnected")
	case isExpectedCloseError(err):
		h.logger.Debug("connection closed", "error", err)
	default:
		h.logger.Warn("read error", "error", err)
	}
}
