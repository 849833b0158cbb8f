package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

func TestBroadcastDeliversToEveryPeer(t *testing.T) {
	registry := NewRegistry(discardLogger())
	broadcaster := NewBroadcaster(registry, discardLogger())

	_, connA := joinedPeer(t, registry, "A")
	_, connB := joinedPeer(t, registry, "B")

	delivered, err := broadcaster.Broadcast(protocol.NewText("A", "hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	framesA := connA.Frames()
	framesB := connB.Frames()
	require.Len(t, framesA, 1)
	require.Len(t, framesB, 1)
	assert.Equal(t, framesA[0], framesB[0], "every peer gets the identical frame")

	msg := connA.Messages(t)[0]
	assert.Equal(t, protocol.KindText, msg.Kind)
	assert.Equal(t, "hi", msg.Body)
}

func TestBroadcastPrunesFailedPeers(t *testing.T) {
	registry := NewRegistry(discardLogger())
	broadcaster := NewBroadcaster(registry, discardLogger())

	_, connA := joinedPeer(t, registry, "A")
	peerB, connB := joinedPeer(t, registry, "B")
	_, connC := joinedPeer(t, registry, "C")
	connB.setFailWrites(true)

	delivered, err := broadcaster.Broadcast(protocol.NewText("A", "hello"))
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	_, stillThere := registry.Get(peerB.ID())
	assert.False(t, stillThere, "failed peer must be gone once the broadcast returns")
	assert.Equal(t, 1, connB.CloseCalls())
	assert.Equal(t, []string{"A", "C"}, registry.Names())

	assert.Len(t, connA.Frames(), 1)
	assert.Len(t, connC.Frames(), 1)

	// The pruned peer is closed only once even if another pass sees it.
	_, err = broadcaster.Broadcast(protocol.NewText("C", "again"))
	require.NoError(t, err)
	require.NoError(t, peerB.Close())
	assert.Equal(t, 1, connB.CloseCalls())
}

func TestBroadcastToEmptyRegistry(t *testing.T) {
	broadcaster := NewBroadcaster(NewRegistry(discardLogger()), discardLogger())

	delivered, err := broadcaster.Broadcast(protocol.NewUserList(nil))
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestBroadcastRawPreservesBytes(t *testing.T) {
	registry := NewRegistry(discardLogger())
	broadcaster := NewBroadcaster(registry, discardLogger())
	_, conn := joinedPeer(t, registry, "A")

	raw := `{ "kind" : "file-chunk", "username":"A", "filename":"f.bin", "data":"AP8=" }`
	assert.Equal(t, 1, broadcaster.BroadcastRaw([]byte(raw)))
	assert.Equal(t, 1, broadcaster.BroadcastRaw([]byte(raw+"\n")))

	frames := conn.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, raw+"\n", frames[0])
	assert.Equal(t, raw+"\n", frames[1])
}

func TestConcurrentBroadcastsDoNotInterleave(t *testing.T) {
	registry := NewRegistry(discardLogger())
	broadcaster := NewBroadcaster(registry, discardLogger())
	_, conn := joinedPeer(t, registry, "target")

	const senders = 8
	const perSender = 25

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, _ = broadcaster.Broadcast(protocol.NewText("sender", "payload"))
			}
		}()
	}
	wg.Wait()

	msgs := conn.Messages(t)
	assert.Len(t, msgs, senders*perSender)
}
