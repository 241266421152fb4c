package integration

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/adag/internal/cluster"
	"github.com/dreamware/adag/internal/config"
	"github.com/dreamware/adag/internal/paramserver"
	"github.com/dreamware/adag/internal/trainer"
)

// TestSystem is an in-process cluster: every task runs its real role over
// loopback HTTP.
type TestSystem struct {
	t         *testing.T
	spec      cluster.Spec
	listeners map[string]net.Listener
	workers   []*trainer.WorkerRole
	ps        []*trainer.ParameterServerRole
	cancelPS  context.CancelFunc
	psDone    *errgroup.Group
}

// NewTestSystem reserves loopback addresses for numPS ps and numWorkers workers.
func NewTestSystem(t *testing.T, numPS, numWorkers int) *TestSystem {
	ts := &TestSystem{t: t, listeners: make(map[string]net.Listener)}
	for i := 0; i < numPS; i++ {
		ts.spec.PS = append(ts.spec.PS, ts.reserve())
	}
	for i := 0; i < numWorkers; i++ {
		ts.spec.Worker = append(ts.spec.Worker, ts.reserve())
	}
	return ts
}

func (ts *TestSystem) reserve() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(ts.t, err)
	addr := ln.Addr().String()
	ts.listeners[addr] = ln
	return addr
}

func (ts *TestSystem) config(job cluster.Job, index int, ceiling int64) *config.Config {
	return &config.Config{
		Cluster:            ts.spec,
		JobName:            string(job),
		TaskIndex:          index,
		WindowSize:         3,
		LocalLearningRate:  1e-3,
		GlobalLearningRate: 1e-2,
		MaxGlobalStep:      ceiling,
		LogGradientsEvery:  7,
		StepPacing:         5 * time.Millisecond,
		StartupGrace:       50 * time.Millisecond,
		BootstrapTimeout:   10 * time.Second,
		HealthInterval:     100 * time.Millisecond,
		Model: config.ModelConfig{
			Target: 100,
			Init:   "zeros",
			Params: []config.ParamConfig{
				{Name: "a", DType: "float32", Shape: []int{2}},
				{Name: "b", DType: "float32", Shape: []int{2}},
				{Name: "bias", DType: "float64", Shape: []int{2}},
			},
		},
	}
}

// StartPS launches every ps task.
func (ts *TestSystem) StartPS() {
	ctx, cancel := context.WithCancel(context.Background())
	ts.cancelPS = cancel
	ts.psDone = &errgroup.Group{}
	for i, addr := range ts.spec.PS {
		role, err := trainer.NewParameterServerRole(ts.config(cluster.JobPS, i, 0),
			trainer.Deps{Listener: ts.listeners[addr]})
		require.NoError(ts.t, err)
		ts.ps = append(ts.ps, role)
		ts.psDone.Go(func() error { return role.Run(ctx) })
	}
}

// RunWorkers runs every worker to completion.
func (ts *TestSystem) RunWorkers(ctx context.Context, ceiling int64) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range ts.spec.Worker {
		role, err := trainer.NewWorkerRole(ts.config(cluster.JobWorker, i, ceiling),
			trainer.Deps{Listener: ts.listeners[addr]})
		if err != nil {
			return err
		}
		ts.workers = append(ts.workers, role)
		g.Go(func() error { return role.Run(gctx) })
	}
	return g.Wait()
}

// Stop shuts the ps tasks down.
func (ts *TestSystem) Stop() {
	if ts.cancelPS != nil {
		ts.cancelPS()
		assert.NoError(ts.t, ts.psDone.Wait())
	}
}

func TestTrainingRunsToCeiling(t *testing.T) {
	ts := NewTestSystem(t, 2, 2)
	ts.StartPS()
	defer ts.Stop()

	const ceiling = 12
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, ts.RunWorkers(ctx, ceiling))

	store, err := paramserver.NewShardedStore(ts.spec.PS)
	require.NoError(t, err)
	gs, err := store.GlobalStep(ctx)
	require.NoError(t, err)

	var pushes uint64
	for _, w := range ts.workers {
		pushes += w.Syncs()
	}
	assert.Equal(t, uint64(gs), pushes, "every push increments the global step exactly once")
	assert.GreaterOrEqual(t, gs, int64(ceiling))
	assert.LessOrEqual(t, gs, int64(ceiling+len(ts.workers)-1))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g/a", "g/b", "g/bias"}, names)

	state, err := store.Initialization(ctx)
	require.NoError(t, err)
	assert.True(t, state.Initialized)

	// the loss pulls a + b + bias toward 100 from 0, so every element grew
	for _, name := range names {
		p, err := store.Read(ctx, name)
		require.NoError(t, err)
		for _, v := range p.Values {
			assert.Greater(t, v, 0.0, "%s did not move", name)
		}
	}

	hosted := 0
	for _, ps := range ts.ps {
		hosted += ps.Shard().Info(ctx).Parameters
	}
	assert.Equal(t, len(names), hosted, "each parameter lives on exactly one ps")

	for _, w := range ts.workers {
		info := w.Info()
		placed := 0
		for _, group := range info.Placement {
			placed += len(group)
		}
		assert.Equal(t, len(names), placed)
		assert.Len(t, info.PS, len(ts.spec.PS))
		assert.Equal(t, state.RunID, info.RunID)
	}
}

func TestWorkerFailsWithoutPS(t *testing.T) {
	ts := NewTestSystem(t, 1, 1)
	// free the ps address without serving it
	require.NoError(t, ts.listeners[ts.spec.PS[0]].Close())

	cfg := ts.config(cluster.JobWorker, 0, 5)
	cfg.BootstrapTimeout = 300 * time.Millisecond
	role, err := trainer.NewWorkerRole(cfg, trainer.Deps{Listener: ts.listeners[ts.spec.Worker[0]]})
	require.NoError(t, err)

	err = role.Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Equal(t, uint64(0), role.Syncs())
}
