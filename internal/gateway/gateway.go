// Package gateway wires the rate-limit -> trace-id -> acquire ->
// execute -> release request flow described by spec.md §4.7 and
// ported from original_source's grpc/gateway.rs. It is transport
// agnostic: Execute can be mounted behind the execproto vsock listener
// or an HTTP front door.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/neurovisor/neurovisor/internal/execproto"
	"github.com/neurovisor/neurovisor/internal/metrics"
	"github.com/neurovisor/neurovisor/internal/ratelimit"
	"github.com/neurovisor/neurovisor/internal/vm"
)

// Gateway routes one execution request at a time through the VM pool,
// enforcing the rate limiter and recording the named metrics.
type Gateway struct {
	pool      *vm.Pool
	limiter   *ratelimit.Limiter
	vsockPort uint32
	log       *log.Entry
}

func New(pool *vm.Pool, limiter *ratelimit.Limiter, vsockPort uint32) *Gateway {
	return &Gateway{
		pool:      pool,
		limiter:   limiter,
		vsockPort: vsockPort,
		log:       log.WithField("component", "gateway"),
	}
}

// Execute runs req to completion in a freshly acquired VM, always
// releasing the VM and recording in-flight/duration/error metrics
// regardless of outcome.
func (g *Gateway) Execute(ctx context.Context, req *execproto.ExecuteRequest, traceID string) (*execproto.ExecuteResponse, error) {
	if err := g.limiter.TryAcquire(); err != nil {
		metrics.RateLimitRejectionsTotal.Inc()
		metrics.ErrorsTotal.WithLabelValues("gateway", "rate_limited").Inc()
		return nil, err
	}

	if traceID == "" {
		traceID = uuid.NewString()
	}

	start := time.Now()
	metrics.RequestsInFlight.Inc()
	metrics.RequestSizeBytes.Observe(float64(len(req.Code)))
	defer func() {
		metrics.RequestsInFlight.Dec()
		metrics.GrpcRequestDuration.WithLabelValues("execute").Observe(time.Since(start).Seconds())
	}()

	handle, err := g.pool.Acquire(traceID)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("gateway", "no_vm_available").Inc()
		return nil, err
	}
	g.log.WithFields(log.Fields{"vm_id": handle.VMID, "cid": handle.CID, "trace_id": traceID}).Info("request acquired vm")

	client := execproto.NewClient(handle.VsockPath, g.vsockPort)
	resp, err := client.Execute(ctx, req)
	g.pool.Release(handle)

	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("gateway", "execution_failed").Inc()
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.RequestsTotal.WithLabelValues("success").Inc()
	metrics.InferenceDuration.WithLabelValues(req.Language).Observe(resp.DurationMs / 1000.0)
	return resp, nil
}

// ServeHTTP exposes Execute over a minimal HTTP front door: POST a JSON
// ExecuteRequest body, receive a JSON ExecuteResponse. x-trace-id is
// honored when present, matching the original's metadata-header
// correlation.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req execproto.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	traceID := strings.TrimSpace(r.Header.Get("X-Trace-Id"))

	resp, err := g.Execute(r.Context(), &req, traceID)
	if err != nil {
		if _, ok := err.(*ratelimit.RateLimitError); ok {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		if _, ok := err.(vm.NoVmAvailable); ok {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
