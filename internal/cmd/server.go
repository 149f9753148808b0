package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	agentlog "github.com/agentround/agentround/internal/log"
	"github.com/agentround/agentround/internal/server"
	"github.com/charmbracelet/log/v2"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the agentround server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// A detached server has nowhere to print, so it logs to the
		// rotating file instead.
		if term.IsTerminal(os.Stderr.Fd()) {
			logger := log.New(os.Stderr)
			logger.SetReportTimestamp(true)
			slog.SetDefault(slog.New(logger))
			if cfg.Debug {
				logger.SetLevel(log.DebugLevel)
			}
		} else {
			agentlog.Setup(cfg.LogFile(), cfg.Debug)
		}

		host := resolveHost(cmd, cfg)
		hostURL, err := server.ParseHostURL(host)
		if err != nil {
			return fmt.Errorf("invalid server host: %v", err)
		}

		a, err := setupApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Shutdown()

		srv := server.NewServer(a, hostURL.Scheme, hostURL.Host)
		srv.SetLogger(slog.Default())
		slog.Info("Starting agentround server...", "addr", host, "providers_file", cfg.ProvidersFile)

		errch := make(chan error, 1)
		sigch := make(chan os.Signal, 1)
		sigs := []os.Signal{os.Interrupt}
		sigs = addSignals(sigs)
		signal.Notify(sigch, sigs...)
		defer signal.Stop(sigch)

		go func() {
			errch <- srv.ListenAndServe()
		}()

		select {
		case <-sigch:
			slog.Info("Received interrupt signal...")
		case <-cmd.Context().Done():
			slog.Info("Context cancelled...")
		case err = <-errch:
			if err != nil && !errors.Is(err, server.ErrServerClosed) {
				_ = srv.Close()
				slog.Error("Server error", "error", err)
				return fmt.Errorf("server error: %v", err)
			}
		}

		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("Shutting down...")

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown server", "error", err)
			return fmt.Errorf("failed to shutdown server: %v", err)
		}

		return nil
	},
}
