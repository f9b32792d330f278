package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/stridelink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// TCPChannel carries framed messages over one live TCP connection. It is
// reachable while a connection is attached; queued messages are flushed
// whenever a connection attaches.
type TCPChannel struct {
	cfg    Config
	outbox *Outbox
	rng    *rand.Rand
	nextID atomic.Uint64

	mu   sync.Mutex
	conn net.Conn
	// wmu serializes frame writes so a slow peer never holds mu.
	wmu sync.Mutex

	rmu      sync.RWMutex
	receiver func(Message)
}

func NewTCPChannel(cfg Config) *TCPChannel {
	cfg = cfg.WithDefaults()
	c := &TCPChannel{
		cfg:    cfg,
		outbox: NewOutbox(cfg.QueueLimit),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.nextID.Store(uint64(time.Now().UnixNano()))
	return c
}

func (c *TCPChannel) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *TCPChannel) SetReceiver(fn func(Message)) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	c.receiver = fn
}

func (c *TCPChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrUnreachable
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return WriteMessage(conn, c.nextID.Add(1), msg)
}

func (c *TCPChannel) QueueForDelivery(msg Message) error {
	c.outbox.Enqueue(msg, time.Now())
	if c.Reachable() {
		c.flush()
	}
	return nil
}

// DialLoop keeps a connection to addr alive until ctx ends, reconnecting with
// backoff after every failure. A connection that drops before
// Backoff.ResetAfter counts as a failed attempt.
func (c *TCPChannel) DialLoop(ctx context.Context, addr string) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			attempt++
			log.Warn().Err(err).Int("attempt", attempt).Str("addr", addr).Msg("transport.TCPChannel.DialLoop connect failed")
			if err := c.waitBackoff(ctx, attempt); err != nil {
				return nil
			}
			continue
		}
		connected := time.Now()
		log.Info().Str("addr", addr).Msg("transport.TCPChannel.DialLoop connected")
		err = c.run(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		lived := time.Since(connected)
		attempt = c.cfg.Backoff.NextAttempt(attempt, lived)
		log.Warn().Err(err).Dur("lived", lived).Int("attempt", attempt).Str("addr", addr).Msg("transport.TCPChannel.DialLoop connection lost")
		if err := c.waitBackoff(ctx, attempt); err != nil {
			return nil
		}
	}
}

// Serve accepts peers on ln until ctx ends. A newer connection replaces the
// current one.
func (c *TCPChannel) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("transport.TCPChannel.Serve peer attached")
		go func() {
			if err := c.run(ctx, conn); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("transport.TCPChannel.Serve peer lost")
			}
		}()
	}
}

// Close drops the current connection, if any.
func (c *TCPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *TCPChannel) run(ctx context.Context, conn net.Conn) error {
	c.attach(conn)
	defer c.detach(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.flush()

	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		msg, err := DecodeMessageFrame(f)
		if err != nil {
			log.Warn().Err(err).Uint32("message_type", f.Header.MessageType).Msg("transport.TCPChannel.run dropped undecodable frame")
			continue
		}
		c.rmu.RLock()
		fn := c.receiver
		c.rmu.RUnlock()
		if fn != nil {
			fn(msg)
		}
	}
}

func (c *TCPChannel) attach(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn != conn {
		_ = c.conn.Close()
	}
	c.conn = conn
}

func (c *TCPChannel) detach(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

// flush sends queued messages in order; on the first failure the unsent
// remainder goes back into the outbox.
func (c *TCPChannel) flush() {
	pending := c.outbox.Drain()
	for i, msg := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		err := c.Send(ctx, msg)
		cancel()
		if err == nil {
			continue
		}
		log.Warn().Err(err).Int("requeued", len(pending)-i).Msg("transport.TCPChannel.flush interrupted")
		for _, rest := range pending[i:] {
			c.outbox.Enqueue(rest, time.Now())
		}
		return
	}
}

func (c *TCPChannel) waitBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.cfg.Backoff.Delay(attempt, c.rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
