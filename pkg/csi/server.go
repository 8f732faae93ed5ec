package csi

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/cuemby/mayastor-control-plane/pkg/log"
	"github.com/cuemby/mayastor-control-plane/pkg/metrics"
	"github.com/cuemby/mayastor-control-plane/pkg/registry"
	"github.com/cuemby/mayastor-control-plane/pkg/volume"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const driverName = "mayastor.cuemby.io"

// DriverVersion is reported verbatim in GetPluginInfo.
const DriverVersion = "1.0.0"

// Server serves the CSI Identity and Controller services on a single Unix
// domain socket. Controller RPCs are gated by ready; Identity RPCs are
// always served (spec.md §4.6).
type Server struct {
	csi.UnimplementedIdentityServer
	csi.UnimplementedControllerServer

	socketPath string
	grpcServer *grpc.Server
	listener   net.Listener

	volumes  *volume.Manager
	registry *registry.Registry
	pages    *pageStore

	ready  atomic.Bool
	logger zerolog.Logger
}

// NewServer creates a Server bound to socketPath. Any stale socket file left
// behind by a previous process is unlinked first.
func NewServer(socketPath string, volumes *volume.Manager, reg *registry.Registry) (*Server, error) {
	if err := unlinkStaleSocket(socketPath); err != nil {
		return nil, err
	}
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("csi: listen on %s: %w", socketPath, err)
	}

	s := &Server{
		socketPath: socketPath,
		grpcServer: grpc.NewServer(grpc.UnaryInterceptor(metricsInterceptor)),
		listener:   lis,
		volumes:    volumes,
		registry:   reg,
		pages:      newPageStore(),
		logger:     log.WithComponent("csi"),
	}
	csi.RegisterIdentityServer(s.grpcServer, s)
	csi.RegisterControllerServer(s.grpcServer, s)
	return s, nil
}

// metricsInterceptor records CSIRequestsTotal/CSIRequestDuration for every
// Identity/Controller RPC, keyed by method name and resulting gRPC code.
func metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	timer := metrics.NewTimer()
	resp, err := handler(ctx, req)
	metrics.CSIRequestDuration.WithLabelValues(info.FullMethod).Observe(timer.Duration().Seconds())
	metrics.CSIRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	return resp, err
}

func unlinkStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("csi: stat %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("csi: remove stale socket %s: %w", path, err)
	}
	return nil
}

// SetReady flips the gate controller RPCs check. The serve command sets it
// right after the server is created.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Serve blocks accepting connections until Stop is called.
func (s *Server) Serve() error {
	s.logger.Info().Str("socket", s.socketPath).Msg("csi server listening")
	return s.grpcServer.Serve(s.listener)
}

// Stop gracefully stops the server and removes the socket file.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
