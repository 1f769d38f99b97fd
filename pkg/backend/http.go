package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/fluxorio/runlog/pkg/core"
	"github.com/fluxorio/runlog/pkg/operation"
)

const (
	// EnvAPIToken carries the opaque credential passed through to the
	// backend. The pipeline never interprets it.
	EnvAPIToken = "NEPTUNE_API_TOKEN"

	// EnvProject names the project batches are attributed to.
	EnvProject = "NEPTUNE_PROJECT"

	executePath = "/api/ops/execute"

	headerAPIToken  = "X-Neptune-Api-Token"
	headerRequestID = "X-Request-Id"
)

// HTTPConfig configures the HTTP backend client.
type HTTPConfig struct {
	// BaseURL is the backend endpoint, e.g. "https://app.example.com".
	BaseURL string

	// APIToken falls back to NEPTUNE_API_TOKEN when empty.
	APIToken string

	// Project falls back to NEPTUNE_PROJECT when empty.
	Project string

	// RequestTimeout bounds each call; 0 selects 30s.
	RequestTimeout time.Duration

	// RequestsPerSecond enables client-side submission throttling when > 0.
	RequestsPerSecond float64

	// Burst is the throttle burst size; 0 selects max(1, RequestsPerSecond).
	Burst int

	Logger core.Logger
}

// HTTP submits batches to a remote backend over fasthttp.
type HTTP struct {
	cfg     HTTPConfig
	client  *fasthttp.Client
	limiter *rate.Limiter
	log     core.Logger
}

// NewHTTP builds the client, resolving credentials from the environment
// when the config leaves them empty.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, &core.Error{Code: "INVALID_INPUT", Message: "backend base URL is required"}
	}
	if cfg.APIToken == "" {
		cfg.APIToken = os.Getenv(EnvAPIToken)
	}
	if cfg.Project == "" {
		cfg.Project = os.Getenv(EnvProject)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewDefaultLogger()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTP{
		cfg:     cfg,
		client:  &fasthttp.Client{},
		limiter: limiter,
		log:     cfg.Logger,
	}, nil
}

type executeRequest struct {
	RequestID  string            `json:"requestId"`
	Project    string            `json:"project,omitempty"`
	Operations []json.RawMessage `json:"operations"`
}

// Execute implements Backend. Network failures, timeouts, 408/429 and 5xx
// responses are transient; other non-2xx statuses reject the batch
// permanently.
func (h *HTTP) Execute(ctx context.Context, batch []operation.Versioned) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient(err)
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return Result{}, Transient(err)
		}
	}

	reqBody := executeRequest{
		RequestID:  uuid.NewString(),
		Project:    h.cfg.Project,
		Operations: make([]json.RawMessage, 0, len(batch)),
	}
	for _, v := range batch {
		data, err := operation.EncodeVersioned(v)
		if err != nil {
			return Result{}, err
		}
		reqBody.Operations = append(reqBody.Operations, data)
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal batch request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(h.cfg.BaseURL, "/") + executePath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if h.cfg.APIToken != "" {
		req.Header.Set(headerAPIToken, h.cfg.APIToken)
	}
	req.Header.Set(headerRequestID, reqBody.RequestID)
	req.SetBody(body)

	timeout := h.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < timeout {
			timeout = remain
		}
	}
	if timeout <= 0 {
		return Result{}, Transient(context.DeadlineExceeded)
	}

	if err := h.client.DoTimeout(req, resp, timeout); err != nil {
		return Result{}, Transient(err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		var res Result
		if err := json.Unmarshal(resp.Body(), &res); err != nil {
			return Result{}, Transient(fmt.Errorf("malformed response: %w", err))
		}
		return res, nil
	case status == fasthttp.StatusRequestTimeout,
		status == fasthttp.StatusTooManyRequests,
		status >= 500:
		h.log.Debugf("backend returned retryable status %d for request %s", status, reqBody.RequestID)
		return Result{}, Transient(fmt.Errorf("backend status %d", status))
	default:
		return Result{}, fmt.Errorf("backend rejected batch: status %d: %s",
			status, strings.TrimSpace(string(resp.Body())))
	}
}

var _ Backend = (*HTTP)(nil)
