package client

import "errors"

var (
	// ErrNotJoined is returned when sending before Join.
	ErrNotJoined = errors.New("client: not joined")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")
	// ErrUnknownTransfer is returned for a chunk whose file was never announced.
	ErrUnknownTransfer = errors.New("client: chunk for unannounced file")
)
