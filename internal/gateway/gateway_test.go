package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neurovisor/neurovisor/internal/execproto"
	"github.com/neurovisor/neurovisor/internal/ratelimit"
	"github.com/neurovisor/neurovisor/internal/vm"
)

// emptyCreator satisfies vm's unexported vmCreator interface structurally
// but is never expected to be called in these tests: every scenario here
// is rejected before the pool would dial a real VM.
type emptyCreator struct{}

func (emptyCreator) CreateVM(ctx context.Context, limits vm.ResourceLimits, snapshotPath, memFilePath string) (*vm.Handle, error) {
	return &vm.Handle{VMID: "vm-unused", Status: vm.StatusReady}, nil
}

func (emptyCreator) DestroyVM(h *vm.Handle) error { return nil }

func emptyPool(t *testing.T) *vm.Pool {
	t.Helper()
	p := vm.NewPool(emptyCreator{}, vm.PoolConfig{TargetWarmSize: 0, MaxPoolSize: 2})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestExecute_RateLimitedRequestNeverTouchesThePool(t *testing.T) {
	drained := ratelimit.New(0, 1) // starts empty: the very first TryAcquire denies
	g := New(emptyPool(t), drained, 5000)

	_, err := g.Execute(context.Background(), &execproto.ExecuteRequest{Language: execproto.LangBash, Code: "echo hi"}, "")
	if err == nil {
		t.Fatal("expected a rate-limit error")
	}
	if _, ok := err.(*ratelimit.RateLimitError); !ok {
		t.Fatalf("err = %T, want *ratelimit.RateLimitError", err)
	}
}

func TestExecute_NoWarmVmReturnsNoVmAvailable(t *testing.T) {
	g := New(emptyPool(t), ratelimit.DefaultLimiter(), 5000)

	_, err := g.Execute(context.Background(), &execproto.ExecuteRequest{Language: execproto.LangBash, Code: "echo hi"}, "")
	if err == nil {
		t.Fatal("expected NoVmAvailable")
	}
	if _, ok := err.(vm.NoVmAvailable); !ok {
		t.Fatalf("err = %T, want vm.NoVmAvailable", err)
	}
}

func TestServeHTTP_RejectsNonPostMethod(t *testing.T) {
	g := New(emptyPool(t), ratelimit.DefaultLimiter(), 5000)

	req := httptest.NewRequest(http.MethodGet, "/execute", nil)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServeHTTP_RejectsInvalidJSONBody(t *testing.T) {
	g := New(emptyPool(t), ratelimit.DefaultLimiter(), 5000)

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServeHTTP_MapsNoVmAvailableTo503(t *testing.T) {
	g := New(emptyPool(t), ratelimit.DefaultLimiter(), 5000)

	body := bytes.NewBufferString(`{"language":"bash","code":"echo hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/execute", body)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestServeHTTP_MapsRateLimitTo429(t *testing.T) {
	g := New(emptyPool(t), ratelimit.New(0, 1), 5000)

	body := bytes.NewBufferString(`{"language":"bash","code":"echo hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/execute", body)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}
