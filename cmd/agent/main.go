package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/config"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/daemon"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging/batch"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging/cloudwatch"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging/format"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging/loki"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/metrics"
)

const bootstrapTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, logLevel, metricsAddr string

	rootCmd := &cobra.Command{
		Use:          "agent",
		Short:        "Ship application log files to CloudWatch Logs",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Diagnostic log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Tail log files and deliver them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath, logLevel)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the log group and stream if needed and print the upload token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath, logLevel)
			if err != nil {
				return err
			}
			if cfg.Sink != config.SinkCloudWatch {
				return fmt.Errorf("provision is only supported for the %s sink", config.SinkCloudWatch)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), bootstrapTimeout)
			defer cancel()

			stream, token, err := bootstrapCloudWatch(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group=%s stream=%s token=%s\n",
				stream.GroupName, stream.StreamName, aws.ToString(token))
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, provisionCmd)
	return rootCmd
}

func setup(configPath, logLevel string) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}
	return cfg, logger.NewDiagnostic(os.Stdout, level), nil
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	agentLog := log.Named("agent")

	if cfg.MetricsAddr != "" {
		metrics.Init()
		srv := serveMetrics(cfg.MetricsAddr, agentLog)
		defer srv.Close()
	}

	sender, stream, token, err := buildSender(ctx, cfg, log)
	if err != nil {
		return err
	}

	processor := batch.NewBatchProcessor(ctx, sender, cfg.EngineSettings(stream),
		batch.WithLogger(log), batch.WithInitialToken(token))
	processor.Start()

	formatter, err := format.NewTemplateFormatter(cfg.Tail.Layout, cloudwatch.MaxEventBytes-cloudwatch.EventOverheadBytes)
	if err != nil {
		processor.Stop()
		return err
	}

	tailer := daemon.NewLogDaemonService(ctx, daemon.Config{
		LogRootPath:     cfg.Tail.LogRootPath,
		Pattern:         cfg.Tail.Pattern,
		ScanInterval:    cfg.Tail.ScanInterval,
		NodeName:        cfg.Tail.NodeName,
		FileIdleTimeout: cfg.Tail.FileIdleTimeout,
		Whence:          io.SeekEnd,
	}, processor, formatter, log.Named("daemon"))
	tailer.Start()

	<-ctx.Done()
	agentLog.Info("shutting down")

	tailer.Stop()
	processor.Stop()
	return nil
}

func buildSender(ctx context.Context, cfg *config.Config, log logger.Logger) (logging.LogSender, logging.StreamIdentity, *string, error) {
	if cfg.Sink == config.SinkLoki {
		stream := logging.StreamIdentity{
			GroupName:  cfg.CloudWatch.LogGroupName,
			StreamName: config.ResolveStreamName(ctx, cfg.CloudWatch.LogStreamName),
		}
		return loki.NewLokiSender(cfg.Loki.URL, cfg.Loki.MaxRetries, log.Named("loki")), stream, nil, nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, logging.StreamIdentity{}, nil, err
	}

	bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()
	stream, token, err := bootstrapCloudWatch(bootCtx, cfg, log, &awsCfg)
	if err != nil {
		return nil, logging.StreamIdentity{}, nil, err
	}
	return cloudwatch.NewSender(awsCfg, cfg.CloudWatch.Endpoint, log.Named("cloudwatch")), stream, token, nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return cloudwatch.LoadAWSConfig(ctx, cloudwatch.SessionConfig{
		Region:    cfg.CloudWatch.Region,
		AccessKey: cfg.CloudWatch.AccessKey,
		SecretKey: cfg.CloudWatch.SecretKey,
		Profile:   cfg.CloudWatch.Profile,
		Endpoint:  cfg.CloudWatch.Endpoint,
	})
}

// bootstrapCloudWatch resolves the stream identity and makes sure it exists
// before any batch is sent.
func bootstrapCloudWatch(ctx context.Context, cfg *config.Config, log logger.Logger, awsCfg *aws.Config) (logging.StreamIdentity, *string, error) {
	if awsCfg == nil {
		loaded, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return logging.StreamIdentity{}, nil, err
		}
		awsCfg = &loaded
	}

	instanceID := func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return cloudwatch.InstanceID(ctx, *awsCfg)
	}
	stream := logging.StreamIdentity{
		GroupName:  cfg.CloudWatch.LogGroupName,
		StreamName: config.ResolveStreamName(ctx, cfg.CloudWatch.LogStreamName, instanceID),
	}

	provisioner := cloudwatch.NewProvisioner(*awsCfg, cfg.CloudWatch.Endpoint, log.Named("cloudwatch"))
	token, err := provisioner.EnsureStream(ctx, stream)
	if err != nil {
		return logging.StreamIdentity{}, nil, fmt.Errorf("provision %s: %w", stream, err)
	}
	return stream, token, nil
}

func serveMetrics(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logger.Err(err))
		}
	}()
	log.Info("serving metrics", logger.F("addr", addr))
	return srv
}
