package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"latencyprobe/internal/config"
	"latencyprobe/internal/httpapi"
	"latencyprobe/internal/logging"
	"latencyprobe/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "latencyprobe",
		Short:         "Multi-protocol latency measurement pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (yaml/toml/json)")
	root.PersistentFlags().String("log-dir", "logs", "directory for rotated JSON logs")
	root.PersistentFlags().Bool("debug", false, "debug logging, mirrored to stderr")
	mustBind(v, "config", root.PersistentFlags().Lookup("config"))
	mustBind(v, "log_dir", root.PersistentFlags().Lookup("log-dir"))
	mustBind(v, "debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(newCollectCmd(v), newServeCmd(v))
	return root
}

func newCollectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Probe a target over ICMP, TCP, UDP, and HTTP and append NDJSON records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateCollect(); err != nil {
				return err
			}
			return runCollect(cfg, v.GetBool("debug"))
		},
	}

	f := cmd.Flags()
	f.String("target", "", "host or IP to probe (required)")
	f.String("output", "latency.jsonl", "NDJSON output path")
	f.Int("batch-size", 50, "records per sink write")
	f.Duration("flush-interval", time.Second, "max time a record waits in the writer")
	f.Duration("icmp-interval", 2*time.Second, "ICMP probe cadence")
	f.Duration("tcp-interval", 5*time.Second, "TCP probe cadence")
	f.Duration("udp-interval", 5*time.Second, "UDP probe cadence")
	f.Duration("http-interval", 5*time.Second, "HTTP probe cadence")
	f.Int("tcp-port", 80, "TCP connect port")
	f.Int("udp-port", 53, "UDP destination port")

	mustBind(v, "target", f.Lookup("target"))
	mustBind(v, "output", f.Lookup("output"))
	mustBind(v, "batch_size", f.Lookup("batch-size"))
	mustBind(v, "flush_interval", f.Lookup("flush-interval"))
	mustBind(v, "icmp.interval", f.Lookup("icmp-interval"))
	mustBind(v, "tcp.interval", f.Lookup("tcp-interval"))
	mustBind(v, "udp.interval", f.Lookup("udp-interval"))
	mustBind(v, "http.interval", f.Lookup("http-interval"))
	mustBind(v, "tcp.port", f.Lookup("tcp-port"))
	mustBind(v, "udp.port", f.Lookup("udp-port"))

	return cmd
}

func runCollect(cfg *config.Config, debug bool) error {
	logger, err := logging.NewLogger(cfg.LogDir, debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := pipeline.FromConfig(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("collect_start",
		zap.String("target", cfg.Target),
		zap.String("output", cfg.Output),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
	)

	err = p.Run(ctx)
	if err != nil {
		logger.Error("collect_stop", zap.Error(err))
		return err
	}
	logger.Info("collect_stop")
	return nil
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve latency summaries over HTTP from the NDJSON record stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return runServe(cfg, v.GetBool("debug"))
		},
	}

	f := cmd.Flags()
	f.String("addr", "127.0.0.1:8080", "listen address")
	f.String("data", "latency.jsonl", "NDJSON file or directory of *.jsonl files")
	mustBind(v, "serve.addr", f.Lookup("addr"))
	mustBind(v, "serve.data", f.Lookup("data"))

	return cmd
}

func runServe(cfg *config.Config, debug bool) error {
	logger, err := logging.NewLogger(cfg.LogDir, debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	api := httpapi.NewServer(logger, cfg.Serve.Data, cfg.Serve.RatePerMin, cfg.Serve.RateBurst)
	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serve_listen", zap.String("addr", cfg.Serve.Addr), zap.String("data", cfg.Serve.Data))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("serve_stop")
	return nil
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
