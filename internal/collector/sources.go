package collector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

// LogSource yields raw log lines written since a point in time.
type LogSource interface {
	Name() string
	FetchLines(ctx context.Context, since time.Time) ([]models.RawSignal, error)
}

// MetricSource yields a host utilisation snapshot.
type MetricSource interface {
	Sample(ctx context.Context) (models.MetricsSnapshot, error)
}

// DockerLogSource reads a container's logs through the docker CLI.
type DockerLogSource struct {
	binary    string
	container string
	run       utils.CommandRunner
}

// NewDockerLogSource builds a source for one container. binary defaults to "docker".
func NewDockerLogSource(binary, container string) *DockerLogSource {
	if binary == "" {
		binary = "docker"
	}
	return &DockerLogSource{binary: binary, container: container, run: utils.ExecRunner}
}

// Name implements LogSource.
func (d *DockerLogSource) Name() string { return d.container }

// FetchLines implements LogSource.
func (d *DockerLogSource) FetchLines(ctx context.Context, since time.Time) ([]models.RawSignal, error) {
	out, err := d.run(ctx, d.binary, "logs", "--since", since.UTC().Format(time.RFC3339), "--timestamps", d.container)
	if err != nil {
		return nil, fmt.Errorf("docker logs %s: %w", d.container, err)
	}
	return splitLines(d.container, out, time.Now()), nil
}

// splitLines turns command output into signals; lines without a timestamp prefix
// inherit the previous line's time, or fallback for the first lines.
func splitLines(source string, out []byte, fallback time.Time) []models.RawSignal {
	var signals []models.RawSignal
	last := fallback
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		ts, rest, ok := utils.SplitTimestamp(line)
		if ok {
			last = ts
			line = rest
		}
		signals = append(signals, models.RawSignal{Source: source, Timestamp: last, Line: line})
	}
	return signals
}
