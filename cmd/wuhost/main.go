package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/wuhost/internal/auth/jwt"
	"github.com/amoylab/wuhost/internal/common/config"
	"github.com/amoylab/wuhost/internal/engine/plain"
	"github.com/amoylab/wuhost/internal/server"
	"github.com/amoylab/wuhost/internal/session"
	"github.com/amoylab/wuhost/pkg/helper"
	"github.com/amoylab/wuhost/pkg/logger"
	"github.com/amoylab/wuhost/pkg/metrics"
	"github.com/amoylab/wuhost/pkg/trace"
	"github.com/amoylab/wuhost/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	pidFile    string
	subject    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of wuhost",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is valid\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "udp %s:%s, signaling :%d, max sessions %d, directory %s\n",
				cfg.Host.BindAddress, cfg.Host.BindPort, cfg.Signaling.Port, cfg.Host.MaxSessions, cfg.Session.Type)
			return nil
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token signed with admin.jwt.secret_key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			svc, err := jwt.NewService(cfg.Admin.JWT)
			if err != nil {
				return fmt.Errorf("admin.jwt: %w", err)
			}
			token, err := svc.GenerateToken(subject, jwt.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:          "wuhost",
		Short:        "UDP session host",
		Long:         `wuhost runs a datagram session host with HTTP signaling and an admin API`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "wuhost.yaml", "path to configuration file")
	rootCmd.Flags().StringVar(&pidFile, "pid", "", "write the process id to this file")
	tokenCmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	rootCmd.AddCommand(versionCmd, checkCmd, tokenCmd)
}

func initLogger(cfg *config.LoggerConfig) *zap.Logger {
	lg, err := logger.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger, falling back to stdout: %v\n", err)
		lg, _ = logger.NewLogger(&config.LoggerConfig{})
	}
	return lg
}

func initMetrics(cfg config.MetricsConfig) *metrics.Metrics {
	if !cfg.Enabled {
		return nil
	}
	return metrics.New(cfg)
}

func run(ctx context.Context) error {
	cfg, path, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", path, err)
	}

	lg := initLogger(&cfg.Logger)
	defer func() { _ = lg.Sync() }()
	lg.Info("starting wuhost", zap.String("version", version.Get()), zap.String("config", path))

	if pidFile != "" {
		pidPath := helper.GetPIDPath(pidFile)
		if err := helper.WritePID(pidPath); err != nil {
			return fmt.Errorf("failed to write pid file: %w", err)
		}
		defer os.Remove(pidPath)
	}

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			lg.Warn("failed to shut down tracing", zap.Error(err))
		}
	}()

	dir, err := session.NewDirectory(lg, &cfg.Session)
	if err != nil {
		return fmt.Errorf("failed to initialize session directory: %w", err)
	}
	defer func() {
		if err := dir.Close(); err != nil {
			lg.Warn("failed to close session directory", zap.Error(err))
		}
	}()

	factory := plain.Factory(plain.WithIdleTimeout(cfg.Host.IdleTimeout), plain.WithLogger(lg))
	srv, err := server.New(lg, cfg, factory, dir, initMetrics(cfg.Metrics))
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}
	return srv.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
