package provider

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

func init() {
	Register("socket", func(name string, cfg *ProviderConfig) (Provider, error) {
		return NewSocket(name, cfg)
	})
}

const (
	defaultSendTimeout = 5 * time.Second
	defaultRatePerSec  = 25
	defaultBurst       = 5
)

// Socket forwards submissions over the venue's frame socket. A single
// connection is shared by all senders; writes are serialized and throttled.
// A dead connection is redialed on the next send rather than in a background
// loop, so an idle provider holds no socket.
type Socket struct {
	name        string
	network     string
	address     string
	tcpFallback string
	timeout     time.Duration
	limiter     *rate.Limiter

	mu   sync.Mutex
	conn net.Conn
}

// NewSocket builds a socket provider from registry configuration.
func NewSocket(name string, cfg *ProviderConfig) (*Socket, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("provider %s: socket address is required", name)
	}
	network := cfg.Network
	if network == "" {
		network = "unix"
	}
	if network != "unix" && network != "tcp" {
		return nil, fmt.Errorf("provider %s: unsupported network %q", name, network)
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = defaultRatePerSec
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Socket{
		name:        name,
		network:     network,
		address:     cfg.Address,
		tcpFallback: cfg.TCPFallback,
		timeout:     timeout,
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
	}, nil
}

func (s *Socket) Name() string { return s.name }

// Send encodes and writes one submission frame. On a write failure the
// connection is dropped and one redial is attempted before giving up; the
// caller decides what a failed send means for the order.
func (s *Socket) Send(ctx context.Context, sub Submission) error {
	payload, err := EncodeSubmission(sub)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("provider %s: rate wait: %w", s.name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(ctx, payload); err == nil {
		return nil
	}
	s.dropLocked()
	if err := s.writeLocked(ctx, payload); err != nil {
		s.dropLocked()
		return fmt.Errorf("provider %s: send %s: %w", s.name, sub.ClOrdID, err)
	}
	return nil
}

func (s *Socket) writeLocked(ctx context.Context, payload []byte) error {
	if s.conn == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		s.conn = conn
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return WriteFrame(s.conn, payload)
}

func (s *Socket) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, s.network, s.address)
	if err == nil {
		return conn, nil
	}
	if s.network == "unix" && s.tcpFallback != "" {
		if tcpConn, tcpErr := d.DialContext(ctx, "tcp", s.tcpFallback); tcpErr == nil {
			return tcpConn, nil
		}
	}
	return nil, err
}

func (s *Socket) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
	return nil
}
