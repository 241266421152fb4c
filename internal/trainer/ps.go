package trainer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/dreamware/adag/internal/config"
	"github.com/dreamware/adag/internal/paramserver"
	"github.com/dreamware/adag/internal/shard"
)

// ParameterServerRole hosts one shard of the global parameters.
type ParameterServerRole struct {
	shard    *shard.Shard
	addr     string
	listener net.Listener
}

// NewParameterServerRole builds the shard for cfg's task index.
func NewParameterServerRole(cfg *config.Config, deps Deps) (*ParameterServerRole, error) {
	addr, err := cfg.Cluster.Addr(cfg.Task())
	if err != nil {
		return nil, err
	}
	return &ParameterServerRole{
		shard:    shard.NewShard(cfg.TaskIndex, len(cfg.Cluster.PS)),
		addr:     addr,
		listener: deps.Listener,
	}, nil
}

// Name implements Role.
func (p *ParameterServerRole) Name() string {
	return "ps"
}

// Shard returns the hosted shard.
func (p *ParameterServerRole) Shard() *shard.Shard {
	return p.shard
}

// Run serves the shard until ctx ends.
func (p *ParameterServerRole) Run(ctx context.Context) error {
	ln, err := listen(p.addr, p.listener)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           paramserver.NewServer(p.shard),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("ps[%d] listening on %s", p.shard.ID, ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	p.shard.SetState(shard.ShardStateStopped)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Warningf("ps[%d] shutdown: %v", p.shard.ID, err)
	}
	info := p.shard.Info(shutdownCtx)
	glog.Infof("ps[%d] stopped: %d parameters, %d updates, %d steps",
		p.shard.ID, info.Parameters, info.Ops.Updates, info.Ops.Steps)
	return nil
}
