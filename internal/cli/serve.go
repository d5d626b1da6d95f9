package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/api"
)

var addrFlag string

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run background rehearsals",
		Run:   runServe,
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default from config, :8080)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()
	log := s.log

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	s.Start(ctx)

	srv := api.NewServer(s.Engine, log)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	if addr := s.Config().Metrics.Addr; addr != "" {
		go func() {
			if err := s.Metrics().StartServer(ctx, addr, s.Config().Metrics.Path); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", addr, "path", s.Config().Metrics.Path)
	}

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		log.Error("http server error", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.Config().Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
	cancel()
	log.Info("adaptive-memory stopped")
}
