package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Job names a cluster role as it appears in the cluster spec and on the
// command line.
type Job string

const (
	// JobPS is the parameter-server job.
	JobPS Job = "ps"
	// JobWorker is the worker job.
	JobWorker Job = "worker"
)

// ChiefIndex is the worker task that initializes the global store.
const ChiefIndex = 0

var (
	// ErrInvalidSpec is returned for an incomplete or inconsistent cluster spec.
	ErrInvalidSpec = errors.New("invalid cluster spec")

	// ErrUnknownTask is returned when a job/index pair is not in the spec.
	ErrUnknownTask = errors.New("unknown task")
)

// Spec is the static address table of the cluster. Every process must be
// started with an identical Spec.
type Spec struct {
	PS     []string `json:"ps" mapstructure:"ps"`
	Worker []string `json:"worker" mapstructure:"worker"`
}

// Task identifies one process of the cluster.
type Task struct {
	Job   Job `json:"job"`
	Index int `json:"index"`
}

func (t Task) String() string {
	return fmt.Sprintf("%s[%d]", t.Job, t.Index)
}

// IsChief reports whether the task is the worker responsible for the
// one-time global initialization.
func (t Task) IsChief() bool {
	return t.Job == JobWorker && t.Index == ChiefIndex
}

// Validate requires at least one ps and one worker, and non-empty, unique
// addresses across the whole table.
func (s Spec) Validate() error {
	if len(s.PS) == 0 {
		return fmt.Errorf("%w: no ps tasks", ErrInvalidSpec)
	}
	if len(s.Worker) == 0 {
		return fmt.Errorf("%w: no worker tasks", ErrInvalidSpec)
	}
	seen := make(map[string]Task)
	check := func(job Job, addrs []string) error {
		for i, addr := range addrs {
			task := Task{Job: job, Index: i}
			if strings.TrimSpace(addr) == "" {
				return fmt.Errorf("%w: %s has an empty address", ErrInvalidSpec, task)
			}
			key := strings.TrimSuffix(URL(addr), "/")
			if prev, dup := seen[key]; dup {
				return fmt.Errorf("%w: %s and %s share address %s", ErrInvalidSpec, prev, task, addr)
			}
			seen[key] = task
		}
		return nil
	}
	if err := check(JobPS, s.PS); err != nil {
		return err
	}
	return check(JobWorker, s.Worker)
}

// Addr returns the configured address of a task.
func (s Spec) Addr(t Task) (string, error) {
	var addrs []string
	switch t.Job {
	case JobPS:
		addrs = s.PS
	case JobWorker:
		addrs = s.Worker
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, t)
	}
	if t.Index < 0 || t.Index >= len(addrs) {
		return "", fmt.Errorf("%w: %s (job has %d tasks)", ErrUnknownTask, t, len(addrs))
	}
	return addrs[t.Index], nil
}

// PSURLs returns the base URL of every ps task in index order.
func (s Spec) PSURLs() []string {
	urls := make([]string, len(s.PS))
	for i, addr := range s.PS {
		urls[i] = URL(addr)
	}
	return urls
}

// URL turns a host:port address into an http base URL. Addresses that
// already carry a scheme are returned unchanged.
func URL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}

// ListenAddr turns a configured address into a net.Listen address.
func ListenAddr(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	return strings.TrimRight(addr, "/")
}

// ValuesRequest carries values for an assign.
type ValuesRequest struct {
	Values []float64 `json:"values"`
}

// UpdateRequest carries an additive delta.
type UpdateRequest struct {
	Delta []float64 `json:"delta"`
}

// StepResponse carries the global step.
type StepResponse struct {
	Step int64 `json:"step"`
}

// InitRequest marks the store as initialized by the chief.
type InitRequest struct {
	RunID string `json:"run_id"`
}

// StatusError is returned by the JSON helpers for non-2xx responses.
type StatusError struct {
	URL     string
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
}

// StatusCode extracts the HTTP status of a StatusError, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: url, Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostJSON sends body as JSON and decodes the response into out, if non-nil.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return do(ctx, http.MethodPost, url, body, out)
}

// PutJSON sends body as JSON with PUT and decodes the response into out, if non-nil.
func PutJSON(ctx context.Context, url string, body any, out any) error {
	return do(ctx, http.MethodPut, url, body, out)
}

// GetJSON decodes the response of a GET into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return do(ctx, http.MethodGet, url, nil, out)
}
