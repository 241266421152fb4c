package trainer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dreamware/adag/internal/cluster"
	"github.com/dreamware/adag/internal/config"
	"github.com/dreamware/adag/internal/optimizer"
	"github.com/dreamware/adag/internal/storage"
)

// Role is the behavior of one cluster task.
type Role interface {
	Name() string
	Run(ctx context.Context) error
}

// Deps replaces parts a role would otherwise build from configuration.
// The zero value builds everything.
type Deps struct {
	// Listener is served instead of listening on the task's address.
	Listener net.Listener
	// Store replaces the HTTP store a worker builds from the ps table.
	// Bootstrap health checks are skipped when it is set.
	Store storage.ParameterStore
	// Objective replaces the configured quadratic loss.
	Objective optimizer.Objective
}

// NewRole validates cfg and returns the role it names.
func NewRole(cfg *config.Config, deps Deps) (Role, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cluster.Job(cfg.JobName) {
	case cluster.JobPS:
		return NewParameterServerRole(cfg, deps)
	case cluster.JobWorker:
		return NewWorkerRole(cfg, deps)
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownRole, cfg.JobName)
}

func listen(addr string, ln net.Listener) (net.Listener, error) {
	if ln != nil {
		return ln, nil
	}
	ln, err := net.Listen("tcp", cluster.ListenAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
