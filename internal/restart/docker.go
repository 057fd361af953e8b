package restart

import (
	"context"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

// Requester restarts a named service.
type Requester interface {
	Restart(ctx context.Context, service string) error
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, service string) error

// Restart implements Requester.
func (f RequesterFunc) Restart(ctx context.Context, service string) error { return f(ctx, service) }

// DockerRequester restarts containers through the docker CLI.
type DockerRequester struct {
	binary string
	run    utils.CommandRunner
}

// NewDockerRequester returns a requester using binary, "docker" when empty.
func NewDockerRequester(binary string) *DockerRequester {
	if binary == "" {
		binary = "docker"
	}
	return &DockerRequester{binary: binary, run: utils.ExecRunner}
}

// Restart implements Requester.
func (d *DockerRequester) Restart(ctx context.Context, service string) error {
	out, err := d.run(ctx, d.binary, "restart", service)
	if err != nil {
		return fmt.Errorf("docker restart %s: %w: %s", service, err, strings.TrimSpace(string(out)))
	}
	return nil
}
