package api

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-selfheal/internal/config"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

type rollbackOnly struct {
	UnimplementedControlPlaneServer
}

func (rollbackOnly) Rollback(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(in.GetValue() == "b1"), nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerAuditAndShutdown(t *testing.T) {
	var logs syncBuffer
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, rollbackOnly{}, utils.NewLoggerTo(&logs, "info", false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	client, conn, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer conn.Close()

	ok, err := client.Rollback(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, ok, "rollback should succeed")
	_, err = client.LearningStats(context.Background())
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	health, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.GetStatus())

	out := logs.String()
	assert.Contains(t, out, "method="+MethodRollback)
	assert.Contains(t, out, "code=OK")
	assert.NotContains(t, out, MethodLearningStats, "read-only calls log at debug")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "clean shutdown")
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server did not stop")
	}
}
