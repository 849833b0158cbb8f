// Package protocol defines the newline-delimited JSON wire format spoken by
// chat peers: the message kinds, their encoding, and the reassembly of
// frames from a byte stream.
//
// Every frame is one JSON object followed by a single '\n':
//
//	{"username":"alice","kind":"text","message":"hi"}\n
//
// File transfers are announced with a file-info frame whose body is
// "<filename>|<size>" and continue with file-chunk frames carrying base64
// data. Chunks are relayed like any other message; receivers key transfers
// by filename.
package protocol
