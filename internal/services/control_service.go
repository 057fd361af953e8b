package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-selfheal/internal/api"
	"github.com/miradorstack/mirador-selfheal/internal/backup"
	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/trigger"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

const recentBackups = 5

// RunTrigger starts or joins a coordinator run.
type RunTrigger interface {
	Trigger(ctx context.Context) (models.RunSummary, error)
}

// BackupCatalog lists and restores backups.
type BackupCatalog interface {
	List() ([]models.BackupRef, error)
	Rollback(id string) (bool, error)
}

// LearningReporter aggregates the fix history.
type LearningReporter interface {
	Stats() models.LearningStats
}

// RunHistory exposes the latest run summary.
type RunHistory interface {
	LastRun() (models.RunSummary, bool)
}

// RestartQueue lists restarts that have not fired yet.
type RestartQueue interface {
	PendingRestarts() []models.RestartRef
}

// Deps wires a ControlService. Restarts and History are optional.
type Deps struct {
	Trigger  RunTrigger
	Backups  BackupCatalog
	Learning LearningReporter
	History  RunHistory
	Restarts RestartQueue
}

// ControlService implements the gRPC control plane.
type ControlService struct {
	api.UnimplementedControlPlaneServer

	logger    *slog.Logger
	deps      Deps
	latencies *utils.LatencyTracker
}

// NewControlService constructs the control plane facade.
func NewControlService(logger *slog.Logger, deps Deps) *ControlService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlService{
		logger:    logger,
		deps:      deps,
		latencies: utils.NewLatencyTracker(256),
	}
}

// TriggerRun runs the pipeline once and returns its summary.
func (s *ControlService) TriggerRun(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.deps.Trigger == nil {
		return nil, status.Error(codes.FailedPrecondition, "run trigger not configured")
	}

	start := time.Now()
	summary, err := s.deps.Trigger.Trigger(ctx)
	if err != nil {
		switch {
		case errors.Is(err, trigger.ErrRunInProgress):
			return nil, status.Error(codes.Aborted, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, status.FromContextError(err).Err()
		default:
			s.logger.Error("triggered run failed", slog.Any("error", err))
			return nil, status.Error(codes.Internal, fmt.Sprintf("run failed: %v", err))
		}
	}

	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 10 && count%10 == 0 {
		s.logger.Info("triggered run latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return s.toStruct(summary)
}

// ListBackups returns every backup, newest first.
func (s *ControlService) ListBackups(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.deps.Backups == nil {
		return nil, status.Error(codes.FailedPrecondition, "backup store not configured")
	}
	refs, err := s.deps.Backups.List()
	if err != nil {
		s.logger.Error("list backups failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list backups")
	}
	out, err := api.ToProtoBackups(refs)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Rollback restores one backup. Unknown ids and incomplete restores are NotFound.
func (s *ControlService) Rollback(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s.deps.Backups == nil {
		return nil, status.Error(codes.FailedPrecondition, "backup store not configured")
	}
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "backup id is required")
	}

	ok, err := s.deps.Backups.Rollback(id)
	if ok {
		s.logger.Info("manual rollback complete", slog.String("backup_id", id))
		return wrapperspb.Bool(true), nil
	}
	s.logger.Warn("manual rollback failed", slog.String("backup_id", id), slog.Any("error", err))
	if err == nil || errors.Is(err, backup.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "backup %s not found", id)
	}
	return nil, status.Errorf(codes.NotFound, "rollback of %s failed: %v", id, err)
}

// LearningStats returns the aggregated fix history.
func (s *ControlService) LearningStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.deps.Learning == nil {
		return nil, status.Error(codes.FailedPrecondition, "learning store not configured")
	}
	return s.toStruct(s.deps.Learning.Stats())
}

// Status combines learning stats, recent backups, the last run and pending restarts.
func (s *ControlService) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	report := models.StatusReport{
		RecentBackups:   []models.BackupRef{},
		PendingRestarts: []models.RestartRef{},
	}
	if s.deps.Learning != nil {
		report.Learning = s.deps.Learning.Stats()
	}
	if s.deps.Backups != nil {
		refs, err := s.deps.Backups.List()
		if err != nil {
			s.logger.Warn("list backups for status failed", slog.Any("error", err))
		}
		if len(refs) > recentBackups {
			refs = refs[:recentBackups]
		}
		if refs != nil {
			report.RecentBackups = refs
		}
	}
	if s.deps.History != nil {
		if last, ok := s.deps.History.LastRun(); ok {
			report.LastRun = &last
		}
	}
	if s.deps.Restarts != nil {
		if pending := s.deps.Restarts.PendingRestarts(); pending != nil {
			report.PendingRestarts = pending
		}
	}
	return s.toStruct(report)
}

func (s *ControlService) toStruct(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		s.logger.Error("encode response failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}
