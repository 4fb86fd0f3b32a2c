package obsmetrics

import (
	"context"
	"net/http"
	"time"

	gethprometheus "github.com/ethereum/go-ethereum/metrics/prometheus"
)

const httpShutdownGrace = 5 * time.Second

// Serve starts the Prometheus scrape endpoint on addr and blocks until ctx
// is cancelled, then shuts the server down gracefully. The endpoint itself
// is an external collaborator boundary — we expose metrics, we do not run
// the scraper or alerting pipeline.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		gethprometheus.Handler(Registry).ServeHTTP(w, r)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
