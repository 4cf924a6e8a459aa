package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foodbridge/relay/core/logger"
)

// StartPromServer exposes the engine's Prometheus metrics on addr until
// the context is cancelled. A dedicated ServeMux keeps the scrape
// endpoint off the default mux.
func StartPromServer(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("metrics server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
