package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// Client calls the control plane over an established connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial opens a plaintext connection to addr. The caller closes the returned connection.
func Dial(addr string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), conn, nil
}

// TriggerRun runs the pipeline once, or joins the run in flight.
func (c *Client) TriggerRun(ctx context.Context) (models.RunSummary, error) {
	var summary models.RunSummary
	err := c.invokeStruct(ctx, MethodTriggerRun, &summary)
	return summary, err
}

// ListBackups returns every backup, newest first.
func (c *Client) ListBackups(ctx context.Context) ([]models.BackupRef, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, MethodListBackups, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return FromProtoBackups(out)
}

// Rollback restores the backup with the given id.
func (c *Client) Rollback(ctx context.Context, id string) (bool, error) {
	out := &wrapperspb.BoolValue{}
	if err := c.conn.Invoke(ctx, MethodRollback, wrapperspb.String(id), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// LearningStats returns the aggregated fix history.
func (c *Client) LearningStats(ctx context.Context) (models.LearningStats, error) {
	var stats models.LearningStats
	err := c.invokeStruct(ctx, MethodLearningStats, &stats)
	return stats, err
}

// Status returns the operator snapshot.
func (c *Client) Status(ctx context.Context) (models.StatusReport, error) {
	var report models.StatusReport
	err := c.invokeStruct(ctx, MethodStatus, &report)
	return report, err
}

func (c *Client) invokeStruct(ctx context.Context, method string, out any) error {
	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, &emptypb.Empty{}, reply); err != nil {
		return err
	}
	return FromStruct(reply, out)
}
