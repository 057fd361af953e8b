package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey or Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider over RESP2. Every command dials a fresh connection,
// which suits the handful of lock operations issued per run.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates cfg without contacting the server.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	normaliseDurations(&cfg)
	return &ValkeyProvider{cfg: cfg}, nil
}

// ConnectValkey creates a provider and pings it so bad credentials fail at startup.
func ConnectValkey(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	p, err := NewValkeyProvider(cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	return p, nil
}

// SetNX issues SET key value [PX ttl] NX.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	args := [][]byte{[]byte("SET"), []byte(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	args = append(args, []byte("NX"))

	reply, err := p.do(ctx, args...)
	if err != nil {
		return false, err
	}
	switch reply.typ {
	case replySimpleString:
		return true, nil
	case replyNil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected SET NX reply type %q", reply.typ)
	}
}

// Get returns ErrCacheMiss for absent keys.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, []byte("GET"), []byte(key))
	if err != nil {
		return nil, err
	}
	switch reply.typ {
	case replyNil:
		return nil, ErrCacheMiss
	case replyBulkString:
		return reply.data, nil
	default:
		return nil, fmt.Errorf("unexpected GET reply type %q", reply.typ)
	}
}

// Del removes key; deleting an absent key is not an error.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, []byte("DEL"), []byte(key))
	return err
}

// Ping expects PONG.
func (p *ValkeyProvider) Ping(ctx context.Context) error {
	reply, err := p.do(ctx, []byte("PING"))
	if err != nil {
		return err
	}
	if reply.typ != replySimpleString || string(reply.data) != "PONG" {
		return fmt.Errorf("unexpected PING reply: %s", reply.data)
	}
	return nil
}

// Close is a no-op; connections are not pooled.
func (p *ValkeyProvider) Close() error { return nil }

// do runs one command on a fresh, authenticated connection, retrying timeouts.
func (p *ValkeyProvider) do(ctx context.Context, args ...[]byte) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.once(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == p.cfg.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return respReply{}, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) once(ctx context.Context, args [][]byte) (respReply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.close()

	if err := p.bootstrap(conn); err != nil {
		return respReply{}, err
	}
	if err := conn.write(args...); err != nil {
		return respReply{}, err
	}
	return conn.readReply()
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: deadlineOr(ctx, p.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(p.cfg.Addr)}
		conn, err = (&tls.Dialer{NetDialer: &dialer, Config: tlsCfg}).DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return newRespConn(conn, p.cfg.ReadTimeout, p.cfg.WriteTimeout), nil
}

func (p *ValkeyProvider) bootstrap(conn *respConn) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte("AUTH")}
		if p.cfg.Username != "" {
			args = append(args, []byte(p.cfg.Username))
		}
		args = append(args, []byte(p.cfg.Password))
		if err := expectOK(conn, "AUTH", args...); err != nil {
			return err
		}
	}
	if p.cfg.DB > 0 {
		if err := expectOK(conn, "SELECT", []byte("SELECT"), []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return err
		}
	}
	return nil
}

func expectOK(conn *respConn, name string, args ...[]byte) error {
	if err := conn.write(args...); err != nil {
		return err
	}
	reply, err := conn.readReply()
	if err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(name), err)
	}
	if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("%s failed: %s", strings.ToLower(name), reply.data)
	}
	return nil
}

func normaliseDurations(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if remaining < d {
			return remaining
		}
	}
	return d
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func shouldRetry(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
