package client

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// Transfer is one incoming file.
type Transfer struct {
	Sender string
	Name   string
	Size   int64

	buf bytes.Buffer
}

// Received returns the number of bytes collected so far.
func (t *Transfer) Received() int64 {
	return int64(t.buf.Len())
}

// Complete reports whether every announced byte has arrived.
func (t *Transfer) Complete() bool {
	return t.Received() >= t.Size
}

// Percent returns progress in the range 0-100.
func (t *Transfer) Percent() int {
	if t.Size <= 0 {
		return 100
	}
	return int(min(t.Received()*100/t.Size, 100))
}

// Bytes returns the collected content.
func (t *Transfer) Bytes() []byte {
	return t.buf.Bytes()
}

// TransferTracker matches file chunks to the file-info that announced
// them, keyed by filename. Announcements from self are ignored, and a new
// announcement for a filename replaces any transfer still in progress.
// Echoes of our own chunks are skipped.
type TransferTracker struct {
	self string

	mu        sync.Mutex
	transfers map[string]*Transfer
}

// NewTransferTracker creates a tracker for the peer named self.
func NewTransferTracker(self string) *TransferTracker {
	return &TransferTracker{
		self:      self,
		transfers: make(map[string]*Transfer),
	}
}

// Track applies a file-info or file-chunk message. It returns the affected
// transfer, or nil for messages it does not track. A transfer is forgotten
// once Complete; a zero-size file completes on its announcement.
func (tt *TransferTracker) Track(msg *protocol.Message) (*Transfer, error) {
	switch msg.Kind {
	case protocol.KindFileInfo:
		if msg.Username == tt.self {
			return nil, nil
		}
		info, err := msg.FileInfo()
		if err != nil {
			return nil, err
		}

		t := &Transfer{Sender: msg.Username, Name: info.Name, Size: info.Size}
		tt.mu.Lock()
		defer tt.mu.Unlock()
		if t.Complete() {
			delete(tt.transfers, info.Name)
			return t, nil
		}
		tt.transfers[info.Name] = t
		return t, nil

	case protocol.KindFileChunk:
		if msg.Username == tt.self {
			return nil, nil
		}
		if msg.Chunk == nil {
			return nil, fmt.Errorf("%w: chunk without payload", protocol.ErrMalformedFrame)
		}

		tt.mu.Lock()
		defer tt.mu.Unlock()
		t, ok := tt.transfers[msg.Chunk.Filename]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, msg.Chunk.Filename)
		}
		t.buf.Write(msg.Chunk.Data)
		if t.Complete() {
			delete(tt.transfers, msg.Chunk.Filename)
		}
		return t, nil
	}
	return nil, nil
}

// Pending returns the number of transfers still in progress.
func (tt *TransferTracker) Pending() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.transfers)
}
