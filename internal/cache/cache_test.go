package cache

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProviderSetNXExpiry(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m := NewMemoryProvider()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "selfheal:run-lock", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first SetNX wins")
	ok, _ = m.SetNX(ctx, "selfheal:run-lock", []byte("b"), time.Minute)
	assert.False(t, ok, "second SetNX loses while held")

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "selfheal:run-lock")
	assert.ErrorIs(t, err, ErrCacheMiss, "expired key misses")
	ok, _ = m.SetNX(ctx, "selfheal:run-lock", []byte("c"), 0)
	assert.True(t, ok, "SetNX after expiry wins")
	require.NoError(t, m.Del(ctx, "selfheal:run-lock"))
	_, err = m.Get(ctx, "selfheal:run-lock")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

// fakeValkey answers the subset of commands the provider issues.
type fakeValkey struct {
	ln       net.Listener
	password string
	mu       sync.Mutex
	data     map[string]string
	commands []string
}

func startFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeValkey{ln: ln, password: password, data: map[string]string{}}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeValkey) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := f.password == ""
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		cmd := strings.ToUpper(args[0])
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		var reply string
		switch {
		case cmd == "AUTH":
			if args[len(args)-1] == f.password {
				authed = true
				reply = "+OK\r\n"
			} else {
				reply = "-WRONGPASS invalid password\r\n"
			}
		case !authed:
			reply = "-NOAUTH Authentication required.\r\n"
		case cmd == "PING":
			reply = "+PONG\r\n"
		case cmd == "SET":
			nx := len(args) > 3 && strings.EqualFold(args[len(args)-1], "NX")
			if _, exists := f.data[args[1]]; nx && exists {
				reply = "$-1\r\n"
			} else {
				f.data[args[1]] = args[2]
				reply = "+OK\r\n"
			}
		case cmd == "GET":
			if v, ok := f.data[args[1]]; ok {
				reply = fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
			} else {
				reply = "$-1\r\n"
			}
		case cmd == "DEL":
			delete(f.data, args[1])
			reply = ":1\r\n"
		default:
			reply = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "*")))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sizeLine, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyProviderLockCycle(t *testing.T) {
	server := startFakeValkey(t, "s3cret")
	ctx := context.Background()

	p, err := ConnectValkey(ctx, ValkeyConfig{Addr: server.ln.Addr().String(), Password: "s3cret"})
	require.NoError(t, err)

	ok, err := p.SetNX(ctx, "selfheal:run-lock", []byte("node-a"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock acquired")
	ok, err = p.SetNX(ctx, "selfheal:run-lock", []byte("node-b"), 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lock contended")
	value, err := p.Get(ctx, "selfheal:run-lock")
	require.NoError(t, err)
	assert.Equal(t, "node-a", string(value))
	require.NoError(t, p.Del(ctx, "selfheal:run-lock"))
	_, err = p.Get(ctx, "selfheal:run-lock")
	assert.ErrorIs(t, err, ErrCacheMiss, "miss after release")
}

func TestValkeyProviderRejectsBadPassword(t *testing.T) {
	server := startFakeValkey(t, "s3cret")

	_, err := ConnectValkey(context.Background(), ValkeyConfig{Addr: server.ln.Addr().String(), Password: "wrong"})
	require.Error(t, err)
	var serverErr ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.True(t, strings.HasPrefix(string(serverErr), "WRONGPASS"), "unexpected server error %q", serverErr)
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	_, err := NewValkeyProvider(ValkeyConfig{})
	assert.Error(t, err)
}
