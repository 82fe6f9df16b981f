package service

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics
type MetricsServer struct {
	ctx      context.Context
	server   *http.Server
	Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer
}

func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	m.ctx = ctx
	m.server = &http.Server{
		Handler: m.Handler(),
		Addr:    addr,
	}
	return m.server.ListenAndServe()
}

func (m *MetricsServer) Handler() http.Handler {
	gatherer := m.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (m *MetricsServer) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(m.ctx)
}
