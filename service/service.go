package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-witness/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080

	MetricsHost = "0.0.0.0"
	MetricsPort = 7300

	shutdownTimeout = 5 * time.Second
)

// Config selects which auxiliary servers run alongside a test run.
type Config struct {
	Log            log.Logger
	HealthzEnabled bool
	HealthzHost    string
	HealthzPort    int
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
}

type Service struct {
	cfg     Config
	log     log.Logger
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.HealthzHost == "" {
		cfg.HealthzHost = HealthzHost
	}
	if cfg.HealthzPort == 0 {
		cfg.HealthzPort = HealthzPort
	}
	if cfg.MetricsHost == "" {
		cfg.MetricsHost = MetricsHost
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = MetricsPort
	}
	logger := cfg.Log.New("component", "service")
	s := &Service{
		cfg:     cfg,
		log:     logger,
		Healthz: &HealthzServer{log: logger},
		Metrics: &MetricsServer{},
	}
	return s
}

// HealthzAddr is the address the healthz server listens on.
func (s *Service) HealthzAddr() string {
	return net.JoinHostPort(s.cfg.HealthzHost, strconv.Itoa(s.cfg.HealthzPort))
}

// MetricsAddr is the address the metrics server listens on.
func (s *Service) MetricsAddr() string {
	return net.JoinHostPort(s.cfg.MetricsHost, strconv.Itoa(s.cfg.MetricsPort))
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if s.cfg.HealthzEnabled {
		go func() {
			addr := s.HealthzAddr()
			s.log.Info("starting healthz server", "addr", addr)
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if s.cfg.MetricsEnabled {
		go func() {
			addr := s.MetricsAddr()
			s.log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = s.Healthz.Shutdown(ctx)
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown(ctx)
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}
