// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package instrumentation

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logger "github.com/intel/membw/pkg/log"
)

const (
	// PrometheusMetricsPath is the URL path for exposing metrics to Prometheus.
	PrometheusMetricsPath = "/metrics"
	// shutdownTimeout bounds graceful shutdown of the HTTP server.
	shutdownTimeout = 5 * time.Second
)

// Our logger instance.
var log = logger.NewLogger("instrumentation")

// Service exposes metrics over HTTP for Prometheus to scrape.
type Service struct {
	sync.RWMutex
	address  string
	gatherer prometheus.Gatherer
	server   *http.Server
	done     chan struct{}
}

// NewService creates an instrumentation service serving the given gatherer
// on address. An empty address disables the service.
func NewService(address string, gatherer prometheus.Gatherer) *Service {
	return &Service{
		address:  address,
		gatherer: gatherer,
	}
}

// Start starts serving metrics.
func (s *Service) Start() error {
	if s.address == "" {
		log.Info("metrics endpoint is disabled")
		return nil
	}

	s.Lock()
	defer s.Unlock()

	if s.server != nil {
		return instrumentationError("already serving on %s", s.server.Addr)
	}

	mux := http.NewServeMux()
	mux.Handle(PrometheusMetricsPath, promhttp.HandlerFor(s.gatherer,
		promhttp.HandlerOpts{
			ErrorLog:      errorLog{},
			ErrorHandling: promhttp.ContinueOnError,
		}))

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return instrumentationError("can't listen on HTTP TCP address %q: %v", s.address, err)
	}

	s.server = &http.Server{Addr: ln.Addr().String(), Handler: mux}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.server, s.done)

	log.Info("serving metrics at http://%s%s", s.server.Addr, PrometheusMetricsPath)

	return nil
}

// Address returns the address the service listens on, with any automatically
// bound port resolved.
func (s *Service) Address() string {
	s.RLock()
	defer s.RUnlock()
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Stop shuts the service down gracefully.
func (s *Service) Stop() {
	s.Lock()
	defer s.Unlock()

	if s.server == nil {
		return
	}

	log.Info("stopping metrics endpoint...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown failed: %v", err)
		s.server.Close()
	}
	<-s.done

	s.server = nil
	s.done = nil
}

// Run serves metrics until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// errorLog passes promhttp errors to our logger.
type errorLog struct{}

func (errorLog) Println(v ...interface{}) {
	log.Error("%s", fmt.Sprint(v...))
}

// instrumentationError produces a formatted instrumentation-specific error.
func instrumentationError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation: "+format, args...)
}
