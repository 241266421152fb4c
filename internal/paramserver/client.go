package paramserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dreamware/adag/internal/cluster"
	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/shard"
	"github.com/dreamware/adag/internal/storage"
)

// ErrRejected is returned when the server refused a request as malformed,
// such as an invalid spec or values of the wrong length.
var ErrRejected = errors.New("request rejected by parameter server")

// Client is a storage.ParameterStore backed by one remote shard.
type Client struct {
	base string
}

var _ storage.ParameterStore = (*Client)(nil)

// NewClient returns a client for the ps at addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	return &Client{base: cluster.URL(addr)}
}

func (c *Client) paramURL(name string) string {
	return c.base + "/params/" + url.PathEscape(name)
}

// wrap turns a StatusError back into the sentinel the server mapped it from.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch cluster.StatusCode(err) {
	case http.StatusNotFound:
		sentinel = storage.ErrParameterNotFound
	case http.StatusConflict:
		sentinel = storage.ErrSpecMismatch
	case http.StatusBadRequest:
		sentinel = ErrRejected
	case http.StatusMisdirectedRequest:
		sentinel = shard.ErrNotOwner
	case http.StatusNotImplemented:
		sentinel = shard.ErrNoStepCounter
	case http.StatusServiceUnavailable:
		sentinel = shard.ErrStopped
	default:
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

// Create implements storage.ParameterStore.
func (c *Client) Create(ctx context.Context, spec param.Spec) error {
	return wrap(cluster.PostJSON(ctx, c.base+"/params", spec, nil))
}

// Read implements storage.ParameterStore.
func (c *Client) Read(ctx context.Context, name string) (*param.Tensor, error) {
	var t param.Tensor
	if err := cluster.GetJSON(ctx, c.paramURL(name), &t); err != nil {
		return nil, wrap(err)
	}
	return &t, nil
}

// Assign implements storage.ParameterStore.
func (c *Client) Assign(ctx context.Context, name string, values []float64) error {
	return wrap(cluster.PutJSON(ctx, c.paramURL(name), cluster.ValuesRequest{Values: values}, nil))
}

// ApplyUpdate implements storage.ParameterStore.
func (c *Client) ApplyUpdate(ctx context.Context, name string, delta []float64) error {
	return wrap(cluster.PostJSON(ctx, c.paramURL(name)+"/update", cluster.UpdateRequest{Delta: delta}, nil))
}

// List implements storage.ParameterStore.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var resp ListResponse
	if err := cluster.GetJSON(ctx, c.base+"/params", &resp); err != nil {
		return nil, wrap(err)
	}
	return resp.Names, nil
}

// GlobalStep implements storage.ParameterStore.
func (c *Client) GlobalStep(ctx context.Context) (int64, error) {
	var resp cluster.StepResponse
	if err := cluster.GetJSON(ctx, c.base+"/step", &resp); err != nil {
		return 0, wrap(err)
	}
	return resp.Step, nil
}

// IncrementGlobalStep implements storage.ParameterStore.
func (c *Client) IncrementGlobalStep(ctx context.Context) (int64, error) {
	var resp cluster.StepResponse
	if err := cluster.PostJSON(ctx, c.base+"/step", struct{}{}, &resp); err != nil {
		return 0, wrap(err)
	}
	return resp.Step, nil
}

// Initialization implements storage.ParameterStore.
func (c *Client) Initialization(ctx context.Context) (storage.InitState, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return storage.InitState{}, err
	}
	return st.InitState, nil
}

// MarkInitialized implements storage.ParameterStore.
func (c *Client) MarkInitialized(ctx context.Context, runID string) error {
	return wrap(cluster.PostJSON(ctx, c.base+"/init", cluster.InitRequest{RunID: runID}, nil))
}

// Status returns the shard's status document.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	if err := cluster.GetJSON(ctx, c.base+"/status", &resp); err != nil {
		return StatusResponse{}, wrap(err)
	}
	return resp, nil
}
