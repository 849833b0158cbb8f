package protocol

import "errors"

var (
	// ErrMalformedFrame is returned when a frame is not a valid message object.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownKind is returned when a frame names a kind this protocol does not define.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrFrameTooLarge is returned by the Assembler when buffered data exceeds its limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrInvalidFileInfo is returned when a file-info body is not "<filename>|<size>".
	ErrInvalidFileInfo = errors.New("invalid file-info body")
)
