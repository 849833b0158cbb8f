package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Listener accepts stream connections and hands each one to its own
// goroutine. Accept failures are logged and retried; only closing the
// listener or cancelling the context ends the loop.
type Listener struct {
	handle func(net.Conn)
	logger *slog.Logger
}

// NewListener creates a Listener that runs handle for every accepted
// connection.
func NewListener(handle func(net.Conn), logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{handle: handle, logger: logger}
}

// Serve accepts on ln until ctx is cancelled or ln is closed, and then
// returns ErrServerClosed. ln is closed when ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	l.logger.Info("chat listener started", "addr", ln.Addr().String())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info("chat listener stopped", "addr", ln.Addr().String())
				return ErrServerClosed
			}

			delay = nextAcceptDelay(delay)
			l.logger.Error("error accepting connection", "error", err, "retry_in", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ErrServerClosed
			}
			continue
		}

		delay = 0
		go l.handle(conn)
	}
}

func nextAcceptDelay(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptDelay
	}
	return min(current*2, maxAcceptDelay)
}
