package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

const (
	// ChunkSize is the payload size of each outgoing file chunk.
	ChunkSize = 256 * 1024

	defaultConnectTimeout = 10 * time.Second
	defaultMaxFrameSize   = 1 << 20
	readBufferSize        = 4096
)

// Config holds client settings.
type Config struct {
	// ConnectTimeout bounds the dial; zero uses ten seconds.
	ConnectTimeout time.Duration
	// MaxFrameSize bounds a single inbound frame.
	MaxFrameSize int
	// WriteTimeout bounds each outgoing frame; zero waits forever.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default client settings.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: defaultConnectTimeout,
		MaxFrameSize:   defaultMaxFrameSize,
	}
}

// Client is one connection to the relay.
type Client struct {
	conn   net.Conn
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	name   string
	closed bool

	writeMu sync.Mutex
}

// Dial connects to the relay at addr.
func Dial(ctx context.Context, addr string, cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := *cfg
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}

	dialer := net.Dialer{Timeout: c.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	logger.Info("connected to relay", "addr", addr)
	return &Client{conn: conn, cfg: c, logger: logger}, nil
}

// Name returns the name passed to Join, or "" before it.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Join announces name to the relay. The relay answers with a join and a
// user list, both delivered through Receive.
func (c *Client) Join(name string) error {
	if name == "" {
		return errors.New("client: empty name")
	}
	if err := c.send(protocol.NewJoin(name)); err != nil {
		return err
	}

	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return nil
}

// SendText sends a chat line.
func (c *Client) SendText(body string) error {
	name, err := c.joinedName()
	if err != nil {
		return err
	}
	return c.send(protocol.NewText(name, body))
}

// SendFile announces the file at path and streams it in ChunkSize chunks.
func (c *Client) SendFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("client: %s is a directory", path)
	}

	return c.SendReader(ctx, filepath.Base(path), info.Size(), f)
}

// SendReader announces a file of size bytes named filename and streams r
// in ChunkSize chunks. It stops early if ctx is cancelled.
func (c *Client) SendReader(ctx context.Context, filename string, size int64, r io.Reader) error {
	name, err := c.joinedName()
	if err != nil {
		return err
	}

	if err := c.send(protocol.NewFileInfo(name, filename, size)); err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)
	var sent int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := c.send(protocol.NewFileChunk(name, filename, buf[:n])); err != nil {
				return err
			}
			sent += int64(n)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read %s: %w", filename, readErr)
		}
	}

	c.logger.Info("file sent", "file", filename, "bytes", sent)
	return nil
}

// Receive decodes frames from the relay and calls fn for each one until
// the connection ends, ctx is cancelled, or fn returns an error. Frames
// that fail to decode are logged and skipped. A clean disconnect returns
// nil.
func (c *Client) Receive(ctx context.Context, fn func(*protocol.Message) error) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	assembler := protocol.NewAssembler(c.cfg.MaxFrameSize)
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			frames, feedErr := assembler.Feed(buf[:n])
			for _, frame := range frames {
				if len(frame) == 0 {
					continue
				}
				msg, decodeErr := protocol.Decode(frame)
				if decodeErr != nil {
					c.logger.Warn("skipping undecodable frame", "error", decodeErr)
					continue
				}
				if err := fn(msg); err != nil {
					return err
				}
			}
			if feedErr != nil {
				return feedErr
			}
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) || c.isClosed() {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
	}
}

// Close closes the connection. The relay announces the leave.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) joinedName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", ErrClosed
	}
	if c.name == "" {
		return "", ErrNotJoined
	}
	return c.name, nil
}

func (c *Client) send(msg *protocol.Message) error {
	if c.isClosed() {
		return ErrClosed
	}

	frame, err := protocol.Frame(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	return nil
}
