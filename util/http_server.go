package util

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func GoServeHTTP(ctx context.Context, logger *Logger, addr string, serveMux *http.ServeMux) {
	s := &http.Server{
		BaseContext: func(net.Listener) context.Context { return ctx },
		Addr:        addr,
		Handler:     serveMux,
	}
	lc := net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		logger.PrintError("Error starting HTTP server on %s: %v\n", addr, err)
		return
	}
	go func() {
		err := s.Serve(l)
		if err != http.ErrServerClosed {
			logger.PrintError("Error running HTTP server on %s: %v\n", addr, err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
}

// NewMetricsServeMux returns a mux serving /metrics from the given gatherer, and /health
func NewMetricsServeMux(gatherer prometheus.Gatherer) *http.ServeMux {
	serveMux := http.NewServeMux()
	serveMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	serveMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return serveMux
}

// SetupMetricsServer serves /metrics and /health on addr until ctx is canceled
func SetupMetricsServer(ctx context.Context, logger *Logger, addr string, gatherer prometheus.Gatherer) {
	logger.PrintVerbose("Serving metrics on %s", addr)
	GoServeHTTP(ctx, logger, addr, NewMetricsServeMux(gatherer))
}
