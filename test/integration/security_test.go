package integration

import (
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/test/testhelpers"
)

// TestOversizedFrameDropsConnection verifies a peer cannot grow the reassembly buffer
// without bound.
func TestOversizedFrameDropsConnection(t *testing.T) {
	cfg := server.NewConfig()
	cfg.MaxFrameSize = 1024
	relay := testhelpers.StartRelay(t, cfg)

	observer := testhelpers.DialTCP(t, relay)
	testhelpers.Join(t, observer, "observer")

	greedy := testhelpers.DialTCP(t, relay)
	testhelpers.Join(t, greedy, "greedy")
	observer.Next(t)
	observer.Next(t)

	greedy.SendRaw(t, []byte(strings.Repeat("A", 4096)))
	greedy.ExpectClosed(t)

	testhelpers.ExpectKind(t, observer.Next(t), protocol.KindLeave, "greedy")
	testhelpers.ExpectNames(t, observer.Next(t).Names(), "observer")
}

// TestMalformedFramesAreSkipped verifies bad input neither closes the connection nor
// reaches other peers.
func TestMalformedFramesAreSkipped(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	a := testhelpers.DialTCP(t, relay)
	a.Send(t, `{"username":"A","kind":"text","message":"before join"}`)
	testhelpers.Join(t, a, "A")

	a.Send(t, `{not json`)
	a.Send(t, `{"username":"A","kind":"shout","message":"?"}`)
	a.Send(t, `{"username":"A","kind":"file-chunk","data":"AA=="}`)
	a.Send(t, `{"username":"A","kind":"user-list","message":"A,Mallory"}`)
	a.Send(t, `{"username":"A","kind":"text","message":"after"}`)

	msg := a.Next(t)
	testhelpers.ExpectKind(t, msg, protocol.KindText, "A")
	if msg.Body != "after" {
		t.Errorf("Expected only the valid frame to be relayed, got %q", msg.Body)
	}
}

// TestRateLimitDiscardsExcessFrames verifies the per-connection token bucket.
func TestRateLimitDiscardsExcessFrames(t *testing.T) {
	cfg := server.NewConfig()
	cfg.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	relay := testhelpers.StartRelay(t, cfg)

	a := testhelpers.DialTCP(t, relay)
	testhelpers.Join(t, a, "A")

	for i := 0; i < 5; i++ {
		a.Send(t, `{"username":"A","kind":"text","message":"spam"}`)
	}
	a.Send(t, `{"username":"A","kind":"text","message":"late"}`)

	a.Next(t)
	a.Next(t)

	if err := a.Conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	buf := make([]byte, 1)
	if n, _ := a.Conn.Read(buf); n != 0 {
		t.Fatal("Frames beyond the burst were relayed")
	}
}
