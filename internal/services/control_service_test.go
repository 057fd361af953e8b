package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-selfheal/internal/api"
	"github.com/miradorstack/mirador-selfheal/internal/backup"
	"github.com/miradorstack/mirador-selfheal/internal/config"
	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/trigger"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

type triggerStub struct {
	summary models.RunSummary
	err     error
	calls   int
}

func (t *triggerStub) Trigger(context.Context) (models.RunSummary, error) {
	t.calls++
	return t.summary, t.err
}

type backupStub struct {
	refs     []models.BackupRef
	ok       bool
	err      error
	restored []string
}

func (b *backupStub) List() ([]models.BackupRef, error) { return b.refs, nil }

func (b *backupStub) Rollback(id string) (bool, error) {
	b.restored = append(b.restored, id)
	return b.ok, b.err
}

type learningStub struct{ stats models.LearningStats }

func (l learningStub) Stats() models.LearningStats { return l.stats }

type historyStub struct{ last *models.RunSummary }

func (h historyStub) LastRun() (models.RunSummary, bool) {
	if h.last == nil {
		return models.RunSummary{}, false
	}
	return *h.last, true
}

type restartStub struct{ refs []models.RestartRef }

func (r restartStub) PendingRestarts() []models.RestartRef { return r.refs }

func TestTriggerRunStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"in progress", trigger.ErrRunInProgress, codes.Aborted},
		{"canceled", context.Canceled, codes.Canceled},
		{"lock failure", fmt.Errorf("acquire run lock: %w", errors.New("dial tcp: refused")), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewControlService(utils.DiscardLogger(), Deps{Trigger: &triggerStub{err: tc.err}})
			_, err := svc.TriggerRun(context.Background(), &emptypb.Empty{})
			assert.Equal(t, tc.code, status.Code(err))
		})
	}

	svc := NewControlService(nil, Deps{})
	_, err := svc.TriggerRun(context.Background(), &emptypb.Empty{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "no trigger configured")
}

func TestRollbackStatusCodes(t *testing.T) {
	backups := &backupStub{ok: false, err: backup.ErrNotFound}
	svc := NewControlService(utils.DiscardLogger(), Deps{Backups: backups})

	_, err := svc.Rollback(context.Background(), wrapperspb.String("  "))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "blank id")
	_, err = svc.Rollback(context.Background(), wrapperspb.String("20261018-093000.000000"))
	assert.Equal(t, codes.NotFound, status.Code(err))

	backups.err = errors.New("backup incomplete")
	_, err = svc.Rollback(context.Background(), wrapperspb.String("20261018-093000.000000"))
	assert.Equal(t, codes.NotFound, status.Code(err), "failed restore")

	backups.ok, backups.err = true, nil
	resp, err := svc.Rollback(context.Background(), wrapperspb.String("20261018-093000.000000"))
	require.NoError(t, err)
	assert.True(t, resp.GetValue())
	assert.Len(t, backups.restored, 3)
}

func startControlPlane(t *testing.T, deps Deps) *api.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := api.NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, NewControlService(utils.DiscardLogger(), deps), utils.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client, conn, err := api.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return client
}

func TestControlPlaneOverGRPC(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	refs := make([]models.BackupRef, 0, 7)
	for i := 0; i < 7; i++ {
		refs = append(refs, models.BackupRef{ID: fmt.Sprintf("b%d", i), Timestamp: now.Add(-time.Duration(i) * time.Minute), Files: []string{"/app/config/settings.yaml"}})
	}
	last := &models.RunSummary{RunID: "run-9", Status: models.RunCompleted, Applied: 1}
	deps := Deps{
		Trigger: &triggerStub{summary: models.RunSummary{RunID: "run-10", Status: models.RunHealthy, HealthStatus: models.HealthHealthy}},
		Backups: &backupStub{refs: refs},
		Learning: learningStub{stats: models.LearningStats{
			TotalFixes: 4, Successes: 3, SuccessRate: 0.75,
			ByFixType: map[models.FixType]models.FixTypeStats{
				models.FixThrottleRequests: {Total: 4, Successes: 3, SuccessRate: 0.75},
			},
		}},
		History:  historyStub{last: last},
		Restarts: restartStub{refs: []models.RestartRef{{TaskID: "t1", Service: "product-trend-celery", DueAt: now}}},
	}
	client := startControlPlane(t, deps)
	ctx := context.Background()

	summary, err := client.TriggerRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-10", summary.RunID)
	assert.Equal(t, models.RunHealthy, summary.Status)

	backups, err := client.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 7)
	assert.Equal(t, "b0", backups[0].ID)
	assert.True(t, backups[0].Timestamp.Equal(now), "unexpected timestamp %v", backups[0].Timestamp)

	_, err = client.Rollback(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err), "NotFound over the wire")

	stats, err := client.LearningStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalFixes)
	assert.Equal(t, 3, stats.ByFixType[models.FixThrottleRequests].Successes)

	report, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, report.RecentBackups, 5)
	require.NotNil(t, report.LastRun)
	assert.Equal(t, "run-9", report.LastRun.RunID)
	require.Len(t, report.PendingRestarts, 1)
	assert.Equal(t, "product-trend-celery", report.PendingRestarts[0].Service)
}

func TestStatusWithoutOptionalDeps(t *testing.T) {
	client := startControlPlane(t, Deps{Learning: learningStub{}})

	report, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.LastRun)
	assert.Empty(t, report.RecentBackups)
	assert.Empty(t, report.PendingRestarts)
}
