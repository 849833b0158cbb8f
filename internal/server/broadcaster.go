package server

import (
	"log/slog"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// Broadcaster delivers frames to every peer in a Registry and prunes the
// peers it cannot reach.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast serializes msg once and delivers it to every registered peer.
// It returns the number of peers that received the frame.
func (b *Broadcaster) Broadcast(msg *protocol.Message) (int, error) {
	frame, err := protocol.Frame(msg)
	if err != nil {
		return 0, err
	}
	b.logger.Debug("broadcasting message", "kind", msg.Kind, "from", msg.Username)
	return b.deliver(frame), nil
}

// BroadcastRaw delivers an already serialized frame unchanged, adding the
// newline terminator if it is missing. File chunks travel this way so their
// payload is relayed exactly as it was received.
func (b *Broadcaster) BroadcastRaw(frame []byte) int {
	if n := len(frame); n == 0 || frame[n-1] != '\n' {
		terminated := make([]byte, n+1)
		copy(terminated, frame)
		terminated[n] = '\n'
		frame = terminated
	}
	return b.deliver(frame)
}

// deliver writes frame to a snapshot of the registry, one peer at a time,
// then removes and closes every peer whose write failed.
func (b *Broadcaster) deliver(frame []byte) int {
	peers := b.registry.Snapshot()

	var failed []*Peer
	delivered := 0
	for _, peer := range peers {
		if err := peer.Send(frame); err != nil {
			if !isExpectedCloseError(err) {
				b.logger.Warn("delivery failed", "peer", peer.ID(), "name", peer.Name(), "error", err)
			}
			failed = append(failed, peer)
			continue
		}
		delivered++
	}

	b.removeFailedPeers(failed)
	return delivered
}

// removeFailedPeers drops unreachable peers and closes their connections.
// Closing unblocks each peer's own receive loop, which then announces the
// departure.
func (b *Broadcaster) removeFailedPeers(failed []*Peer) {
	for _, peer := range failed {
		if _, removed := b.registry.Remove(peer.ID()); removed {
			b.logger.Info("peer pruned after failed delivery", "peer", peer.ID(), "name", peer.Name())
		}
		if err := peer.Close(); err != nil && !isExpectedCloseError(err) {
			b.logger.Warn("error closing pruned peer", "peer", peer.ID(), "error", err)
		}
	}
}
