// Package config loads agent settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

const (
	SinkCloudWatch = "cloudwatch"
	SinkLoki       = "loki"

	DefaultLogGroupName = "default"
	// transport record cap, see cloudwatch.MaxBatchCount
	maxDrainLimit = 10000
)

type Config struct {
	Sink        string           `yaml:"sink"`
	LogLevel    string           `yaml:"logLevel"`
	MetricsAddr string           `yaml:"metricsAddr"`
	CloudWatch  CloudWatchConfig `yaml:"cloudwatch"`
	Loki        LokiConfig       `yaml:"loki"`
	Engine      EngineConfig     `yaml:"engine"`
	Tail        TailConfig       `yaml:"tail"`
}

type CloudWatchConfig struct {
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"accessKey"`
	SecretKey     string `yaml:"secretKey"`
	Profile       string `yaml:"profile"`
	Endpoint      string `yaml:"endpoint"`
	LogGroupName  string `yaml:"logGroupName"`
	LogStreamName string `yaml:"logStreamName"`
}

type LokiConfig struct {
	URL        string `yaml:"url"`
	MaxRetries int    `yaml:"maxRetries"`
}

// EngineConfig tunes the queue and the delivery loop.
type EngineConfig struct {
	QueueCapacity      int           `yaml:"queueCapacity"`
	FlushPeriodSeconds int           `yaml:"flushPeriodSeconds"`
	DrainLimit         int           `yaml:"drainLimit"`
	HighWaterMark      int           `yaml:"highWaterMark"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"`
	SendTimeout        time.Duration `yaml:"sendTimeout"`
}

type TailConfig struct {
	LogRootPath     string        `yaml:"logRootPath"`
	Pattern         string        `yaml:"pattern"`
	ScanInterval    time.Duration `yaml:"scanInterval"`
	FileIdleTimeout time.Duration `yaml:"fileIdleTimeout"`
	Layout          string        `yaml:"layout"`
	NodeName        string        `yaml:"nodeName"`
}

// Load reads path when it is not empty, then applies environment overrides
// and defaults. The result is validated.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Sink = getEnv("SINK", c.Sink)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	c.CloudWatch.Region = getEnv("AWS_REGION", c.CloudWatch.Region)
	c.CloudWatch.Endpoint = getEnv("AWS_ENDPOINT_URL_CLOUDWATCH_LOGS", c.CloudWatch.Endpoint)
	c.CloudWatch.LogGroupName = getEnv("LOG_GROUP_NAME", c.CloudWatch.LogGroupName)
	c.CloudWatch.LogStreamName = getEnv("LOG_STREAM_NAME", c.CloudWatch.LogStreamName)

	c.Loki.URL = getEnv("LOKI_URL", c.Loki.URL)
	c.Loki.MaxRetries = getEnvAsInt("MAX_RETRIES", c.Loki.MaxRetries)

	c.Engine.QueueCapacity = getEnvAsInt("QUEUE_CAPACITY", c.Engine.QueueCapacity)
	c.Engine.FlushPeriodSeconds = getEnvAsInt("FLUSH_PERIOD_SECONDS", c.Engine.FlushPeriodSeconds)
	c.Engine.DrainLimit = getEnvAsInt("DRAIN_LIMIT", c.Engine.DrainLimit)
	c.Engine.HighWaterMark = getEnvAsInt("HIGH_WATER_MARK", c.Engine.HighWaterMark)
	c.Engine.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Engine.ShutdownTimeout)
	c.Engine.SendTimeout = getEnvAsDuration("SEND_TIMEOUT", c.Engine.SendTimeout)

	c.Tail.LogRootPath = getEnv("LOG_PATH", c.Tail.LogRootPath)
	c.Tail.Pattern = getEnv("LOG_PATTERN", c.Tail.Pattern)
	c.Tail.ScanInterval = getEnvAsDuration("SCAN_INTERVAL", c.Tail.ScanInterval)
	c.Tail.FileIdleTimeout = getEnvAsDuration("FILE_IDLE_TIMEOUT", c.Tail.FileIdleTimeout)
	c.Tail.NodeName = getEnv("NODE_NAME", c.Tail.NodeName)
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Sink) == "" {
		c.Sink = SinkCloudWatch
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if strings.TrimSpace(c.CloudWatch.LogGroupName) == "" {
		c.CloudWatch.LogGroupName = DefaultLogGroupName
	}
	if strings.TrimSpace(c.Loki.URL) == "" {
		c.Loki.URL = "http://loki:3100"
	}
	if c.Loki.MaxRetries == 0 {
		c.Loki.MaxRetries = 3
	}
	c.Engine.applyDefaults()
	c.Tail.applyDefaults()
}

func (e *EngineConfig) applyDefaults() {
	if e.QueueCapacity == 0 {
		e.QueueCapacity = 10000
	}
	if e.FlushPeriodSeconds == 0 {
		e.FlushPeriodSeconds = 5
	}
	if e.DrainLimit == 0 {
		e.DrainLimit = 5000
	}
	if e.HighWaterMark == 0 {
		e.HighWaterMark = e.DrainLimit
	}
	if e.ShutdownTimeout == 0 {
		e.ShutdownTimeout = 4 * time.Second
	}
	if e.SendTimeout == 0 {
		e.SendTimeout = 30 * time.Second
	}
}

func (t *TailConfig) applyDefaults() {
	if strings.TrimSpace(t.LogRootPath) == "" {
		t.LogRootPath = "/var/log/app"
	}
	if strings.TrimSpace(t.Pattern) == "" {
		t.Pattern = "*.log"
	}
	if t.ScanInterval == 0 {
		t.ScanInterval = 30 * time.Second
	}
	if strings.TrimSpace(t.NodeName) == "" {
		t.NodeName = "unknown"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Sink != SinkCloudWatch && c.Sink != SinkLoki {
		errs = append(errs, fmt.Errorf("unknown sink %q", c.Sink))
	}
	if c.Engine.QueueCapacity < 1 {
		errs = append(errs, errors.New("queueCapacity must be positive"))
	}
	if c.Engine.FlushPeriodSeconds < 1 {
		errs = append(errs, errors.New("flushPeriodSeconds must be positive"))
	}
	if c.Engine.DrainLimit < 1 || c.Engine.DrainLimit > maxDrainLimit {
		errs = append(errs, fmt.Errorf("drainLimit must be between 1 and %d", maxDrainLimit))
	}
	if c.Engine.HighWaterMark < 0 {
		errs = append(errs, errors.New("highWaterMark must not be negative"))
	}
	if c.Engine.ShutdownTimeout < 0 || c.Engine.SendTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if (c.CloudWatch.AccessKey == "") != (c.CloudWatch.SecretKey == "") {
		errs = append(errs, errors.New("accessKey and secretKey must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EngineSettings converts the file settings into the batch processor config.
func (c *Config) EngineSettings(stream logging.StreamIdentity) logging.Config {
	return logging.Config{
		Stream:          stream,
		QueueCapacity:   c.Engine.QueueCapacity,
		FlushPeriod:     time.Duration(c.Engine.FlushPeriodSeconds) * time.Second,
		DrainLimit:      c.Engine.DrainLimit,
		HighWaterMark:   c.Engine.HighWaterMark,
		ShutdownTimeout: c.Engine.ShutdownTimeout,
		SendTimeout:     c.Engine.SendTimeout,
	}
}
