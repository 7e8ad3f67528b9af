// Package guestserver implements the guest-side execution server from
// spec.md §4.6: it binds a vsock listener inside the VM and, for each
// connection, dispatches the requested language to an interpreter or
// compiler and streams the result back using internal/execproto framing.
package guestserver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/neurovisor/neurovisor/internal/execproto"
)

// InvalidArgument covers an unknown language, a Rust compile failure, or
// any other error about the submitted code itself rather than the
// transport.
type InvalidArgument struct {
	Message string
	Stderr  string
}

func (e *InvalidArgument) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Stderr)
	}
	return e.Message
}

// command builds the *exec.Cmd for a validated language + code pair. For
// compiled languages it writes code to a per-process-unique temp file
// first and returns a cleanup func the caller must always invoke.
func command(ctx context.Context, language, code string) (cmd *exec.Cmd, cleanup func(), err error) {
	cleanup = func() {}

	switch language {
	case execproto.LangPython:
		cmd = exec.CommandContext(ctx, "python3", "-c", code)
	case execproto.LangBash:
		cmd = exec.CommandContext(ctx, "bash", "-c", code)
	case execproto.LangJavaScript:
		cmd = exec.CommandContext(ctx, "node", "-e", code)
	case execproto.LangGo:
		dir, tmpErr := os.MkdirTemp("", "nvexec-go-"+uuid.NewString())
		if tmpErr != nil {
			return nil, cleanup, &InvalidArgument{Message: "creating temp dir", Stderr: tmpErr.Error()}
		}
		cleanup = func() { os.RemoveAll(dir) }
		src := filepath.Join(dir, "main.go")
		if werr := os.WriteFile(src, []byte(code), 0o644); werr != nil {
			cleanup()
			return nil, func() {}, &InvalidArgument{Message: "writing source", Stderr: werr.Error()}
		}
		cmd = exec.CommandContext(ctx, "go", "run", src)
	case execproto.LangRust:
		dir, tmpErr := os.MkdirTemp("", "nvexec-rs-"+uuid.NewString())
		if tmpErr != nil {
			return nil, cleanup, &InvalidArgument{Message: "creating temp dir", Stderr: tmpErr.Error()}
		}
		cleanup = func() { os.RemoveAll(dir) }
		src := filepath.Join(dir, "main.rs")
		bin := filepath.Join(dir, "main")
		if werr := os.WriteFile(src, []byte(code), 0o644); werr != nil {
			cleanup()
			return nil, func() {}, &InvalidArgument{Message: "writing source", Stderr: werr.Error()}
		}
		compile := exec.CommandContext(ctx, "rustc", "-O", "-o", bin, src)
		out, cErr := compile.CombinedOutput()
		if cErr != nil {
			cleanup()
			return nil, func() {}, &InvalidArgument{Message: "rustc compile failed", Stderr: string(out)}
		}
		cmd = exec.CommandContext(ctx, bin)
	default:
		return nil, cleanup, &InvalidArgument{Message: fmt.Sprintf("unknown language %q", language)}
	}
	return cmd, cleanup, nil
}
