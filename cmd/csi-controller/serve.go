package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/mayastor-control-plane/pkg/csi"
	"github.com/cuemby/mayastor-control-plane/pkg/log"
	"github.com/cuemby/mayastor-control-plane/pkg/metrics"
	"github.com/cuemby/mayastor-control-plane/pkg/node"
	"github.com/cuemby/mayastor-control-plane/pkg/registry"
	"github.com/cuemby/mayastor-control-plane/pkg/volume"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry, volume reconciler and CSI controller façade",
	Long: `serve starts the storage node registry, the volume reconciler and
the CSI Identity/Controller gRPC service on a Unix domain socket. It blocks
until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("csi-socket", "/var/run/csi/csi.sock", "Unix domain socket the CSI façade listens on")
	serveCmd.Flags().String("admin-addr", "127.0.0.1:8090", "Address for the node-management admin API")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus /metrics endpoint")
	serveCmd.Flags().StringSlice("nodes", nil, "Initial storage nodes as name=endpoint pairs (repeatable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("main")

	csiSocket, _ := cmd.Flags().GetString("csi-socket")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	initialNodes, _ := cmd.Flags().GetStringSlice("nodes")

	reg := registry.New(func(name, endpoint string) registry.Node {
		return node.New(name, endpoint)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, spec := range initialNodes {
		name, endpoint, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("invalid --nodes entry %q, expected name=endpoint", spec)
		}
		if err := reg.AddNode(ctx, name, endpoint); err != nil {
			return fmt.Errorf("failed to register node %q: %w", name, err)
		}
		logger.Info().Str("node", name).Str("endpoint", endpoint).Msg("node registered at startup")
	}

	volumes := volume.NewManager(reg)

	server, err := csi.NewServer(csiSocket, volumes, reg)
	if err != nil {
		return fmt.Errorf("failed to create CSI server: %w", err)
	}
	server.SetReady(true)

	collector := metrics.NewCollector(reg, volumes)
	collector.Start()

	admin := newAdminServer(reg)
	adminHTTP := &http.Server{Addr: adminAddr, Handler: admin.handler()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsHTTP := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 3)
	go func() {
		if err := server.Serve(); err != nil {
			errCh <- fmt.Errorf("CSI server error: %w", err)
		}
	}()
	go func() {
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()
	go func() {
		if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	logger.Info().Str("socket", csiSocket).Msg("csi-controller ready")
	logger.Info().Str("addr", adminAddr).Msg("admin API listening")
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal server error")
	}

	server.Stop()
	collector.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = adminHTTP.Shutdown(shutdownCtx)
	_ = metricsHTTP.Shutdown(shutdownCtx)

	for _, name := range reg.NodeNames() {
		_ = reg.RemoveNode(name)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
