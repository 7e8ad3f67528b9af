// guestagent is the in-VM binary: it listens on a vsock port and serves
// Execute/ExecuteStream RPCs against whatever code fragment the host
// sends it. It never dials out and never touches the host's handshake —
// that happens entirely on the host side of the vsock device, per
// original_source's guest_server.rs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdlayher/vsock"
	log "github.com/sirupsen/logrus"

	"github.com/neurovisor/neurovisor/internal/guestserver"
)

func main() {
	port := flag.Uint("port", 6000, "vsock port to listen on")
	flag.Parse()

	listener, err := vsock.Listen(uint32(*port), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listening on vsock port %d: %v\n", *port, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		listener.Close()
	}()

	srv := guestserver.New(listener)
	log.WithField("port", *port).Info("guestagent listening")
	if err := srv.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}
