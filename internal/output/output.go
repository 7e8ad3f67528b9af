// Package output centralizes CLI output formatting and the exit-code /
// JSON-error-envelope mapping for neurovisor's own error taxonomy
// (spec.md §7): VM acquisition backpressure, rate limiting, and agent
// iteration exhaustion each get a distinct exit code and envelope field
// instead of collapsing into one generic "error" exit.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/neurovisor/neurovisor/internal/agent"
	"github.com/neurovisor/neurovisor/internal/ratelimit"
	"github.com/neurovisor/neurovisor/internal/vm"
)

// Exit codes. ExitError is the fallback for anything not named below;
// the domain-specific codes let a caller script distinguish "the pool
// was out of capacity" from "the model never finished" without parsing
// stderr text.
const (
	ExitSuccess       = 0
	ExitError         = 1
	ExitNetwork       = 2
	ExitTimeout       = 3
	ExitNotFound      = 4
	ExitVMUnavailable = 5
	ExitRateLimited   = 6
	ExitMaxIterations = 7
	ExitInterrupted   = 130
)

var (
	flagJSON    bool
	flagQuiet   bool
	flagVerbose bool
)

// SetFlags is called by the root command's PersistentPreRun to propagate flag values.
func SetFlags(jsonMode, quiet, verbose bool) {
	flagJSON = jsonMode
	flagQuiet = quiet
	flagVerbose = verbose
}

// IsJSON returns true when --json mode is active.
func IsJSON() bool { return flagJSON }

// IsQuiet returns true when --quiet mode is active.
func IsQuiet() bool { return flagQuiet }

// IsVerbose returns true when --verbose mode is active.
func IsVerbose() bool { return flagVerbose }

// PrintJSON marshals v as JSON and writes it to w.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// ExitCodeFor maps one of this repo's own error kinds to a process exit
// code, per spec.md §7's error policy table. Unrecognized errors (and
// nil, which never reaches here in practice) fall back to ExitError.
func ExitCodeFor(err error) int {
	var noVM vm.NoVmAvailable
	var rateLimited *ratelimit.RateLimitError
	var maxIter *agent.MaxIterationsReached

	switch {
	case errors.As(err, &noVM):
		return ExitVMUnavailable
	case errors.As(err, &rateLimited):
		return ExitRateLimited
	case errors.As(err, &maxIter):
		return ExitMaxIterations
	default:
		return ExitError
	}
}

// errorEnvelope is the JSON shape written by PrintError. RetryAfterSecs
// is only populated for ratelimit.RateLimitError; vm.NoVmAvailable and
// agent.VmAcquisitionFailed carry no retry-after value, so their
// envelopes omit the field.
type errorEnvelope struct {
	Error          string  `json:"error"`
	Message        string  `json:"message"`
	RetryAfterSecs float64 `json:"retry_after_secs,omitempty"`
}

// PrintError writes a JSON error envelope for err to w, tagging it with
// the same error-kind vocabulary ExitCodeFor uses.
func PrintError(w io.Writer, err error) error {
	env := errorEnvelope{Message: err.Error()}

	var noVM vm.NoVmAvailable
	var rateLimited *ratelimit.RateLimitError
	var maxIter *agent.MaxIterationsReached
	var vmAcqFailed *agent.VmAcquisitionFailed

	switch {
	case errors.As(err, &rateLimited):
		env.Error = "rate_limited"
		env.RetryAfterSecs = rateLimited.RetryAfterSecs
	case errors.As(err, &noVM):
		env.Error = "no_vm_available"
	case errors.As(err, &vmAcqFailed):
		env.Error = "vm_acquisition_failed"
	case errors.As(err, &maxIter):
		env.Error = "max_iterations_reached"
	default:
		env.Error = "error"
	}

	return PrintJSON(w, env)
}
