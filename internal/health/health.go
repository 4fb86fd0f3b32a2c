// Package health exposes the liveness/readiness HTTP surface Kubernetes
// (an external collaborator, per spec.md §1) polls before routing traffic
// or sending SIGTERM. We only implement the endpoints; the orchestration
// around them is out of scope.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Draining reports whether the owning daemon has begun its shutdown
// sequence. Implemented by *shutdown.Controller.
type Draining interface {
	Draining() bool
}

// Serve starts the health endpoints on addr and blocks until ctx is
// cancelled, then shuts the server down.
func Serve(ctx context.Context, addr string, d Draining) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Draining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "draining")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
