package paramserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/dreamware/adag/internal/cluster"
	"github.com/dreamware/adag/internal/metrics"
	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/shard"
	"github.com/dreamware/adag/internal/storage"
)

// ListResponse is the body of GET /params.
type ListResponse struct {
	Names []string `json:"names"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	storage.InitState
	Step  int64           `json:"step"`
	Shard shard.ShardInfo `json:"shard"`
}

// Server serves one shard.
type Server struct {
	shard  *shard.Shard
	router *mux.Router
	label  string
}

// NewServer builds the routes for s.
func NewServer(s *shard.Shard) *Server {
	srv := &Server{shard: s, router: mux.NewRouter(), label: strconv.Itoa(s.ID)}

	r := srv.router
	// a parameter name is the rest of the path verbatim; cleaning it would
	// redirect one name onto another
	r.SkipClean(true)
	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/params", srv.instrument("list", srv.handleList)).Methods(http.MethodGet)
	r.HandleFunc("/params", srv.instrument("create", srv.handleCreate)).Methods(http.MethodPost)
	// names contain slashes; the update route must be matched first
	r.HandleFunc("/params/{name:.+}/update", srv.instrument("update", srv.handleUpdate)).Methods(http.MethodPost)
	r.HandleFunc("/params/{name:.+}", srv.instrument("read", srv.handleRead)).Methods(http.MethodGet)
	r.HandleFunc("/params/{name:.+}", srv.instrument("assign", srv.handleAssign)).Methods(http.MethodPut)
	r.HandleFunc("/step", srv.instrument("step", srv.handleGetStep)).Methods(http.MethodGet)
	r.HandleFunc("/step", srv.instrument("increment", srv.handleIncrementStep)).Methods(http.MethodPost)
	r.HandleFunc("/status", srv.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/init", srv.instrument("init", srv.handleInit)).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return srv
}

// ServeHTTP implements http.Handler.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (srv *Server) instrument(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		metrics.PSRequestCounter.WithLabelValues(srv.label, op, strconv.Itoa(rec.code)).Inc()
		metrics.PSRequestHistogram.WithLabelValues(srv.label, op).Observe(time.Since(start).Seconds())
	}
}

// statusFor maps a shard error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrParameterNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrSpecMismatch):
		return http.StatusConflict
	case errors.Is(err, param.ErrInvalidSpec), errors.Is(err, param.ErrShapeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, shard.ErrNotOwner):
		return http.StatusMisdirectedRequest
	case errors.Is(err, shard.ErrNoStepCounter):
		return http.StatusNotImplemented
	case errors.Is(err, shard.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (srv *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		glog.Errorf("ps[%d] %v", srv.shard.ID, err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("write response: %v", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (srv *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !srv.shard.Serving() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := srv.shard.List(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	writeJSON(w, ListResponse{Names: names})
}

func (srv *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec param.Spec
	if !decode(w, r, &spec) {
		return
	}
	if err := srv.shard.Create(r.Context(), spec); err != nil {
		srv.writeError(w, err)
		return
	}
	glog.V(1).Infof("ps[%d] declared %s %s%v", srv.shard.ID, spec.Name, spec.DType, spec.Shape)
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	t, err := srv.shard.Read(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		srv.writeError(w, err)
		return
	}
	writeJSON(w, t)
}

func (srv *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req cluster.ValuesRequest
	if !decode(w, r, &req) {
		return
	}
	if err := srv.shard.Assign(r.Context(), mux.Vars(r)["name"], req.Values); err != nil {
		srv.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req cluster.UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := srv.shard.ApplyUpdate(r.Context(), mux.Vars(r)["name"], req.Delta); err != nil {
		srv.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleGetStep(w http.ResponseWriter, r *http.Request) {
	step, err := srv.shard.GlobalStep(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	writeJSON(w, cluster.StepResponse{Step: step})
}

func (srv *Server) handleIncrementStep(w http.ResponseWriter, r *http.Request) {
	step, err := srv.shard.IncrementGlobalStep(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	metrics.PSGlobalStepGauge.Set(float64(step))
	writeJSON(w, cluster.StepResponse{Step: step})
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := srv.shard.Initialization(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	resp := StatusResponse{InitState: state, Shard: srv.shard.Info(r.Context())}
	if srv.shard.HostsStep() {
		if resp.Step, err = srv.shard.GlobalStep(r.Context()); err != nil {
			srv.writeError(w, err)
			return
		}
	}
	writeJSON(w, resp)
}

func (srv *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req cluster.InitRequest
	if !decode(w, r, &req) {
		return
	}
	if err := srv.shard.MarkInitialized(r.Context(), req.RunID); err != nil {
		srv.writeError(w, err)
		return
	}
	glog.Infof("ps[%d] global parameters initialized by run %s", srv.shard.ID, req.RunID)
	w.WriteHeader(http.StatusNoContent)
}
