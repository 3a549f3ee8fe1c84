package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/geniusboywonder/bmad-core/httpapi"
	"github.com/geniusboywonder/bmad-core/telemetry"
	"github.com/geniusboywonder/bmad-core/telemetry/promexport"
)

// handleHTTPServer starts srv's chi router (plus a Prometheus /metrics
// endpoint) and arranges for it to shut down gracefully when ctx is
// cancelled, mirroring the teacher's handleHTTPServer goroutine/WaitGroup
// shutdown shape.
func handleHTTPServer(ctx context.Context, addr string, api *httpapi.Server, collector *promexport.Collector, wg *sync.WaitGroup, errc chan error, logger telemetry.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/", api.Routes())
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}
