package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/expensebridge/internal/config"
	"github.com/Iron-Ham/expensebridge/internal/event"
	"github.com/Iron-Ham/expensebridge/internal/gateway"
	"github.com/Iron-Ham/expensebridge/internal/logging"
	"github.com/Iron-Ham/expensebridge/internal/server"
	"github.com/Iron-Ham/expensebridge/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket server",
	Long: `Start the HTTP and WebSocket server. Each WebSocket connection that sends
connection_establish gets its own worker process, which is terminated when
the connection closes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "interface to bind (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides server.port and PORT)")
	serveCmd.Flags().String("static-dir", "", "directory holding index.html (overrides server.static_dir)")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.static_dir", serveCmd.Flags().Lookup("static-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.File, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	argv, err := workerCommand(cfg)
	if err != nil {
		return err
	}
	logger.Info("worker command", "argv", argv)

	bus := event.NewBus(event.WithLogger(logger))
	defer bus.Unsubscribe(auditEvents(bus, logger))

	spawner := worker.NewExecSpawner(worker.Config{
		Command: argv,
		Dir:     cfg.Worker.Dir,
	})
	gw := gateway.New(spawner,
		gateway.WithLogger(logger),
		gateway.WithEventBus(bus),
		gateway.WithBacklogLines(cfg.Relay.BacklogLines),
	)

	srvCfg := server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		StaticDir:      cfg.Server.StaticDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingInterval(),
		PongTimeout:    cfg.Server.PongTimeout(),
	}
	srv := server.New(srvCfg, gw, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", srvCfg.Addr())
	return srv.ListenAndServe(ctx)
}

// workerCommand resolves the worker argv. Without an explicit command the
// server re-executes itself in worker mode.
func workerCommand(cfg *config.Config) ([]string, error) {
	if len(cfg.Worker.Command) > 0 {
		return cfg.Worker.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable for worker: %w", err)
	}
	return []string{exe, "worker", "--data-dir", cfg.Worker.DataDir}, nil
}

// auditEvents records every lifecycle event at debug level and returns the
// subscription id.
func auditEvents(bus *event.Bus, logger *logging.Logger) string {
	audit := logger.WithComponent("audit")
	return bus.SubscribeAll(func(e event.Event) {
		args := []any{"event", e.EventType()}
		switch ev := e.(type) {
		case event.SessionStartedEvent:
			args = append(args, "pid", ev.PID)
		case event.SessionEndedEvent:
			args = append(args, "duration", ev.Duration, "relayed_lines", ev.RelayedLines, "dropped_lines", ev.DroppedLines)
		case event.CommandRejectedEvent:
			args = append(args, "reason", ev.Reason)
		case event.RelayFailedEvent:
			args = append(args, "error", ev.Err)
		}
		audit.WithSession(e.SessionID()).Debug("lifecycle event", args...)
	})
}
