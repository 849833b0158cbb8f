package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the payload carried by a Message.
type Kind string

// Message kinds understood by the relay.
const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindText      Kind = "text"
	KindFileInfo  Kind = "file-info"
	KindFileChunk Kind = "file-chunk"
	KindUserList  Kind = "user-list"
)

// UserListSender is the sender name of server-generated user-list messages.
// It never belongs to a real peer.
const UserListSender = "ServerUserList"

// kindAliases maps every accepted spelling to its canonical kind. Older
// clients send "message" for text and run the file kinds together.
var kindAliases = map[string]Kind{
	"join":       KindJoin,
	"leave":      KindLeave,
	"text":       KindText,
	"message":    KindText,
	"file-info":  KindFileInfo,
	"fileinfo":   KindFileInfo,
	"file-chunk": KindFileChunk,
	"filechunk":  KindFileChunk,
	"user-list":  KindUserList,
	"userlist":   KindUserList,
}

// ParseKind resolves a wire spelling to its canonical Kind.
func ParseKind(s string) (Kind, bool) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	return kind, ok
}

// FileChunk is one piece of a file's binary content.
type FileChunk struct {
	Filename string
	Data     []byte
}

// Message is a single protocol message. Chunk is set only for
// KindFileChunk; every other kind carries its payload in Body.
type Message struct {
	Username  string
	Kind      Kind
	Body      string
	Timestamp time.Time
	Chunk     *FileChunk
}

// header is the shape shared by every frame.
type header struct {
	Username    string `json:"username"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	Kind        string `json:"kind"`
	MessageType string `json:"messageType"`
}

// chunkPayload is the richer shape only file-chunk frames carry. Data is
// decoded from standard base64 by encoding/json.
type chunkPayload struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

type wireMessage struct {
	Username  string    `json:"username"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Filename  string    `json:"filename,omitempty"`
	Data      []byte    `json:"data,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

// Decode parses one frame (without its trailing newline) into a Message.
// Structural failures wrap ErrMalformedFrame; kinds outside the protocol
// wrap ErrUnknownKind. A frame with no kind at all is treated as text.
// Every frame must be a JSON object naming its sender.
func Decode(frame []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}

	var h header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if h.Username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrMalformedFrame)
	}

	rawKind := h.Kind
	if rawKind == "" {
		rawKind = h.MessageType
	}
	kind := KindText
	if rawKind != "" {
		var ok bool
		if kind, ok = ParseKind(rawKind); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, rawKind)
		}
	}

	msg := &Message{
		Username:  h.Username,
		Kind:      kind,
		Body:      h.Message,
		Timestamp: parseTimestamp(h.Timestamp),
	}

	if kind == KindFileChunk {
		var payload chunkPayload
		if err := json.Unmarshal(frame, &payload); err != nil {
			return nil, fmt.Errorf("%w: file-chunk payload: %v", ErrMalformedFrame, err)
		}
		if payload.Filename == "" {
			return nil, fmt.Errorf("%w: file-chunk without filename", ErrMalformedFrame)
		}
		msg.Chunk = &FileChunk{Filename: payload.Filename, Data: payload.Data}
	}

	return msg, nil
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// MarshalJSON encodes the message in its wire shape. String fields are
// escaped by encoding/json, so the output never contains a raw newline.
func (m *Message) MarshalJSON() ([]byte, error) {
	wire := wireMessage{
		Username:  m.Username,
		Kind:      m.Kind,
		Message:   m.Body,
		Timestamp: m.Timestamp,
	}
	if m.Chunk != nil {
		wire.Filename = m.Chunk.Filename
		wire.Data = m.Chunk.Data
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a wire frame, see Decode.
func (m *Message) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Frame serializes m and appends the newline terminator.
func Frame(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind, err)
	}
	return append(data, '\n'), nil
}

// NewJoin builds a join announcement for username.
func NewJoin(username string) *Message {
	return &Message{Username: username, Kind: KindJoin, Timestamp: time.Now()}
}

// NewLeave builds a leave announcement for username.
func NewLeave(username string) *Message {
	return &Message{Username: username, Kind: KindLeave, Timestamp: time.Now()}
}

// NewText builds a chat message.
func NewText(username, body string) *Message {
	return &Message{Username: username, Kind: KindText, Body: body, Timestamp: time.Now()}
}

// NewFileInfo announces an upcoming transfer of size bytes.
func NewFileInfo(username, filename string, size int64) *Message {
	return &Message{
		Username:  username,
		Kind:      KindFileInfo,
		Body:      FileInfo{Name: filename, Size: size}.String(),
		Timestamp: time.Now(),
	}
}

// NewFileChunk wraps one piece of a file.
func NewFileChunk(username, filename string, data []byte) *Message {
	return &Message{
		Username:  username,
		Kind:      KindFileChunk,
		Timestamp: time.Now(),
		Chunk:     &FileChunk{Filename: filename, Data: data},
	}
}

// NewUserList builds the server-generated roster message.
func NewUserList(names []string) *Message {
	return &Message{
		Username:  UserListSender,
		Kind:      KindUserList,
		Body:      strings.Join(names, ","),
		Timestamp: time.Now(),
	}
}

// Names splits a user-list body. An empty roster yields nil.
func (m *Message) Names() []string {
	if m.Body == "" {
		return nil
	}
	return strings.Split(m.Body, ",")
}

// FileInfo is the decoded body of a file-info message.
type FileInfo struct {
	Name string
	Size int64
}

func (f FileInfo) String() string {
	return f.Name + "|" + strconv.FormatInt(f.Size, 10)
}

// ParseFileInfo splits "<filename>|<size>". The size follows the last '|',
// so filenames may themselves contain the separator.
func ParseFileInfo(body string) (FileInfo, error) {
	sep := strings.LastIndexByte(body, '|')
	if sep <= 0 {
		return FileInfo{}, fmt.Errorf("%w: %q", ErrInvalidFileInfo, body)
	}
	size, err := strconv.ParseInt(body[sep+1:], 10, 64)
	if err != nil || size < 0 {
		return FileInfo{}, fmt.Errorf("%w: bad size in %q", ErrInvalidFileInfo, body)
	}
	return FileInfo{Name: body[:sep], Size: size}, nil
}

// FileInfo parses the body of a file-info message.
func (m *Message) FileInfo() (FileInfo, error) {
	if m.Kind != KindFileInfo {
		return FileInfo{}, fmt.Errorf("%w: message kind is %s", ErrInvalidFileInfo, m.Kind)
	}
	return ParseFileInfo(m.Body)
}
