package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics.
type MetricsServer struct {
	mu     sync.Mutex
	server *http.Server
}

func (m *MetricsServer) Handler() http.Handler {
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.Handler())
	return hdlr
}

func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Handler: m.Handler(),
		Addr:    addr,
	}
	m.mu.Lock()
	m.server = server
	m.mu.Unlock()
	return server.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
