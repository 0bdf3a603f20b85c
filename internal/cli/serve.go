package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/agentic/pkg/gateway"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve agents over JSON-RPC",
	Long: `Start the gateway. Clients call agents, sessions and turns methods over
HTTP (/rpc) or WebSocket (/ws); WebSocket clients also receive turn events as
they happen. Requires gateway.shared_secret in the config file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override gateway.port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}
	if cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret is not set; run 'agentic configure' or set AGENTIC_GATEWAY_SHARED_SECRET")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		RateLimit:    cfg.Gateway.RateLimit,
		TickInterval: 30 * time.Second,
		Agents:       a.registry,
		Logger:       a.log.Component("gateway"),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Gateway listening on %s\n", cfg.Gateway.Address())
	<-ctx.Done()

	a.logger.Info().Msg("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop gateway: %w", err)
	}
	return nil
}
