package server

import (
	"log/slog"
	"sort"
	"sync"
)

type registryEntry struct {
	peer *Peer
	seq  uint64
}

// Registry is the authoritative set of joined peers, keyed by peer ID.
// Inserts and removals are linearizable; snapshots are copies, so callers
// never hold the lock while writing to sockets.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]registryEntry
	nextSeq uint64
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		peers:  make(map[string]registryEntry),
		logger: logger,
	}
}

// Insert adds a peer. It returns false if a peer with the same ID is
// already present.
func (r *Registry) Insert(peer *Peer) bool {
	if peer == nil {
		r.logger.Warn("ignoring nil peer registration")
		return false
	}

	r.mu.Lock()
	if _, exists := r.peers[peer.ID()]; exists {
		r.mu.Unlock()
		return false
	}
	r.nextSeq++
	r.peers[peer.ID()] = registryEntry{peer: peer, seq: r.nextSeq}
	count := len(r.peers)
	r.mu.Unlock()

	r.logger.Info("peer registered", "peer", peer.ID(), "name", peer.Name(), "addr", peer.Addr(), "total", count)
	return true
}

// Remove deletes the peer with the given ID and returns it. Removing an
// unknown or already removed ID is a no-op that returns false.
func (r *Registry) Remove(id string) (*Peer, bool) {
	r.mu.Lock()
	entry, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	count := len(r.peers)
	r.mu.Unlock()

	if ok {
		r.logger.Info("peer unregistered", "peer", id, "name", entry.peer.Name(), "total", count)
	}
	return entry.peer, ok
}

// Get looks a peer up by ID.
func (r *Registry) Get(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.peers[id]
	return entry.peer, ok
}

// Snapshot returns the current peers in join order.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.peers))
	for _, entry := range r.peers {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	peers := make([]*Peer, len(entries))
	for i, entry := range entries {
		peers[i] = entry.peer
	}
	return peers
}

// Names returns the display names of the current peers in join order.
// Duplicate names are kept.
func (r *Registry) Names() []string {
	peers := r.Snapshot()
	names := make([]string, 0, len(peers))
	for _, peer := range peers {
		if name := peer.Name(); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Count returns the number of joined peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
