package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/adag/internal/cluster"
	"github.com/dreamware/adag/internal/config"
	"github.com/dreamware/adag/internal/metrics"
	"github.com/dreamware/adag/internal/mirror"
	"github.com/dreamware/adag/internal/optimizer"
	"github.com/dreamware/adag/internal/paramserver"
	"github.com/dreamware/adag/internal/protocol"
	"github.com/dreamware/adag/internal/replica"
	"github.com/dreamware/adag/internal/storage"
	"github.com/dreamware/adag/internal/window"
)

// WorkerInfo is the body of a worker's GET /info.
type WorkerInfo struct {
	Task       string                             `json:"task"`
	Chief      bool                               `json:"chief"`
	RunID      string                             `json:"run_id,omitempty"`
	LocalStep  int64                              `json:"local_step"`
	GlobalStep int64                              `json:"global_step"`
	Syncs      uint64                             `json:"syncs"`
	Window     window.State                       `json:"window"`
	Values     map[string][]float64               `json:"values"`
	Output     []float64                          `json:"output,omitempty"`
	PS         map[string]*cluster.EndpointHealth `json:"ps,omitempty"`
	Placement  map[int][]string                   `json:"placement,omitempty"`
}

// outputter is implemented by objectives that can report the model output.
type outputter interface {
	Output(values map[string][]float64) ([]float64, error)
}

// WorkerRole trains a local replica and synchronizes it with the global
// parameters every window.
type WorkerRole struct {
	cfg      *config.Config
	task     cluster.Task
	label    string
	addr     string
	listener net.Listener

	rep       *replica.Replica
	win       *window.Window
	local     optimizer.Optimizer
	global    optimizer.Optimizer
	objective optimizer.Objective
	store     storage.ParameterStore
	sharded   *paramserver.ShardedStore // nil when Deps supplied the store
	monitor   *cluster.HealthMonitor

	runID      atomic.String
	globalStep atomic.Int64
	syncs      atomic.Uint64
}

// NewWorkerRole builds the replica, window and optimizers for cfg's task.
func NewWorkerRole(cfg *config.Config, deps Deps) (*WorkerRole, error) {
	task := cfg.Task()
	addr, err := cfg.Cluster.Addr(task)
	if err != nil {
		return nil, err
	}
	initializer, err := cfg.Initializer()
	if err != nil {
		return nil, err
	}
	rep, err := replica.New(cfg.Specs(), initializer)
	if err != nil {
		return nil, err
	}
	win, err := window.New(cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	local, err := optimizer.NewGradientDescent(cfg.LocalLearningRate)
	if err != nil {
		return nil, err
	}
	global, err := optimizer.NewGradientDescent(cfg.GlobalLearningRate)
	if err != nil {
		return nil, err
	}

	w := &WorkerRole{
		cfg:       cfg,
		task:      task,
		label:     strconv.Itoa(task.Index),
		addr:      addr,
		listener:  deps.Listener,
		rep:       rep,
		win:       win,
		local:     local,
		global:    global,
		objective: deps.Objective,
		store:     deps.Store,
		monitor:   cluster.NewHealthMonitor(cfg.HealthInterval),
	}
	if w.objective == nil {
		w.objective = cfg.Objective()
	}
	if w.store == nil {
		store, err := paramserver.NewShardedStore(cfg.Cluster.PS)
		if err != nil {
			return nil, err
		}
		w.store = store
		w.sharded = store
	}
	w.monitor.SetOnUnhealthy(func(id string) {
		glog.Warningf("worker[%d] lost %s", w.task.Index, id)
		metrics.WorkerPSHealthGauge.WithLabelValues(w.label, id).Set(0)
	})
	w.monitor.SetOnRecovered(func(id string) {
		glog.Infof("worker[%d] %s recovered", w.task.Index, id)
		metrics.WorkerPSHealthGauge.WithLabelValues(w.label, id).Set(1)
	})
	return w, nil
}

// Name implements Role.
func (w *WorkerRole) Name() string {
	return "worker"
}

// Replica returns the worker's local parameters.
func (w *WorkerRole) Replica() *replica.Replica {
	return w.rep
}

// Syncs returns the number of completed push/pull rounds.
func (w *WorkerRole) Syncs() uint64 {
	return w.syncs.Load()
}

// Handler serves /health, /info and /metrics.
func (w *WorkerRole) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.HandleFunc("/info", w.handleInfo).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (w *WorkerRole) handleInfo(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(w.Info()); err != nil {
		glog.Warningf("worker[%d] write info: %v", w.task.Index, err)
	}
}

// Info returns a snapshot of the worker's progress.
func (w *WorkerRole) Info() WorkerInfo {
	values := w.rep.Values()
	info := WorkerInfo{
		Task:       w.task.String(),
		Chief:      w.task.IsChief(),
		RunID:      w.runID.Load(),
		LocalStep:  w.rep.LocalStep(),
		GlobalStep: w.globalStep.Load(),
		Syncs:      w.syncs.Load(),
		Window:     w.win.State(),
		Values:     values,
	}
	if o, ok := w.objective.(outputter); ok {
		info.Output, _ = o.Output(values)
	}
	if w.sharded != nil {
		info.PS = w.monitor.AllHealth()
		names := w.rep.Names()
		for i, n := range names {
			names[i] = mirror.GlobalName(n)
		}
		info.Placement = w.sharded.Registry().Group(names)
	}
	return info
}

func (w *WorkerRole) endpoints() []cluster.Endpoint {
	urls := w.cfg.Cluster.PSURLs()
	eps := make([]cluster.Endpoint, len(urls))
	for i, u := range urls {
		eps[i] = cluster.Endpoint{ID: cluster.Task{Job: cluster.JobPS, Index: i}.String(), Addr: u}
	}
	return eps
}

// Run trains until the global step reaches the ceiling, serving the info
// endpoints meanwhile. Cancelling ctx stops training without an error.
func (w *WorkerRole) Run(ctx context.Context) error {
	ln, err := listen(w.addr, w.listener)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("worker[%d] listening on %s", w.task.Index, ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				glog.Warningf("worker[%d] shutdown: %v", w.task.Index, err)
			}
		}()
		err := w.train(gctx)
		if err != nil && gctx.Err() != nil {
			glog.Infof("worker[%d] interrupted: %v", w.task.Index, err)
			return nil
		}
		return err
	})
	return g.Wait()
}

func (w *WorkerRole) train(ctx context.Context) error {
	idx := w.task.Index
	if w.sharded != nil {
		glog.Infof("worker[%d] waiting for %d ps task(s)", idx, len(w.cfg.Cluster.PS))
		if err := cluster.WaitHealthy(ctx, w.cfg.Cluster.PS, w.cfg.BootstrapTimeout); err != nil {
			return err
		}
		for _, ep := range w.endpoints() {
			metrics.WorkerPSHealthGauge.WithLabelValues(w.label, ep.ID).Set(1)
		}
		go w.monitor.Start(ctx, w.endpoints)
		defer w.monitor.Stop()
	}

	m, err := mirror.Build(ctx, w.rep.Specs(), w.store)
	if err != nil {
		return err
	}
	glog.V(1).Infof("worker[%d] mirrored %d parameters: %v", idx, m.Len(), m.GlobalNames())
	sync := &protocol.Synchronizer{Mirror: m, Store: w.store, Optimizer: w.global}

	if w.task.IsChief() {
		runID, err := sync.InitializeGlobal(ctx, w.rep)
		if err != nil {
			return err
		}
		w.runID.Store(runID)
		glog.Infof("worker[%d] initialized %d global parameters, run %s", idx, m.Len(), runID)
		if err := sleep(ctx, w.cfg.StartupGrace); err != nil {
			return err
		}
	} else {
		state, err := sync.WaitInitialized(ctx, w.cfg.BootstrapTimeout)
		if err != nil {
			return err
		}
		w.runID.Store(state.RunID)
	}
	if err := sync.PullInitial(ctx, w.rep); err != nil {
		return err
	}

	glog.Infof("worker[%d] starting training", idx)
	if err := w.loop(ctx, sync); err != nil {
		return err
	}
	glog.Infof("worker[%d] done", idx)

	if err := sleep(ctx, w.cfg.ShutdownGrace); err != nil {
		return err
	}
	glog.Infof("worker[%d] closed cleanly", idx)
	return nil
}

func (w *WorkerRole) loop(ctx context.Context, sync *protocol.Synchronizer) error {
	idx := w.task.Index
	for {
		if done, err := w.reachedCeiling(ctx); done || err != nil {
			return err
		}

		start := time.Now()
		avg, err := w.win.Run(ctx, w.rep, w.objective, w.local)
		if err != nil {
			return err
		}
		metrics.WorkerPhaseHistogram.WithLabelValues(w.label, "window").Observe(time.Since(start).Seconds())
		metrics.WorkerLocalStepGauge.WithLabelValues(w.label).Set(float64(w.rep.LocalStep()))

		// other workers may have pushed while the window ran
		if done, err := w.reachedCeiling(ctx); done || err != nil {
			return err
		}

		start = time.Now()
		step, err := sync.Push(ctx, avg)
		if err != nil {
			metrics.WorkerSyncCounter.WithLabelValues(w.label, "error").Inc()
			return err
		}
		metrics.WorkerPhaseHistogram.WithLabelValues(w.label, "push").Observe(time.Since(start).Seconds())

		start = time.Now()
		if err := sync.Pull(ctx, w.rep); err != nil {
			metrics.WorkerSyncCounter.WithLabelValues(w.label, "error").Inc()
			return err
		}
		metrics.WorkerPhaseHistogram.WithLabelValues(w.label, "pull").Observe(time.Since(start).Seconds())
		metrics.WorkerSyncCounter.WithLabelValues(w.label, "ok").Inc()
		w.syncs.Inc()
		w.observe(step)

		info := w.Info()
		glog.Infof("worker[%d] %v global step: %d local step: %d", idx, info.Output, step, info.LocalStep)
		if every := w.cfg.LogGradientsEvery; every > 0 && step%every == 1 && bool(glog.V(2)) {
			for i, tuple := range w.win.Recorded() {
				for _, g := range tuple {
					glog.Infof("worker[%d] window step %d gradient %s: %v", idx, i, g.Name, g.Values)
				}
			}
		}

		if err := sleep(ctx, w.cfg.StepPacing); err != nil {
			return err
		}
	}
}

// reachedCeiling reads the global step and reports whether training is over.
func (w *WorkerRole) reachedCeiling(ctx context.Context) (bool, error) {
	gs, err := w.store.GlobalStep(ctx)
	if err != nil {
		return false, fmt.Errorf("read global step: %w", err)
	}
	w.observe(gs)
	if gs >= w.cfg.MaxGlobalStep {
		glog.Infof("worker[%d] global step %d reached ceiling %d", w.task.Index, gs, w.cfg.MaxGlobalStep)
		return true, nil
	}
	return false, nil
}

func (w *WorkerRole) observe(step int64) {
	w.globalStep.Store(step)
	metrics.WorkerGlobalStepGauge.WithLabelValues(w.label).Set(float64(step))
}
