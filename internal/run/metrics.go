package run

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// httpServe exposes Prometheus metrics and, when enabled, the sentence
// event stream on addr until ctx is done.
func (s *Server) httpServe(ctx context.Context, addr string, metrics http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.httpHandler(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.events.closeAll()
		_ = server.Shutdown(shutCtx)
	}()
	s.logger.Infof("metrics listening on http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warnf("metrics server: %v", err)
	}
}

func (s *Server) httpHandler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	if s.cfg.Events.Enabled {
		mux.Handle("/events", s.events)
	}
	return mux
}
