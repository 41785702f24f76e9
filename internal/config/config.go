// Package config loads server configuration from environment variables with
// command-line flag overrides. Every knob has a safe default; Load validates
// the result so misconfiguration is caught on startup.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	envListenAddr           = "RINGLINK_LISTEN_ADDR"
	envStaticDir            = "RINGLINK_STATIC_DIR"
	envLogFormat            = "RINGLINK_LOG_FORMAT"
	envLogLevel             = "RINGLINK_LOG_LEVEL"
	envShutdownTimeout      = "RINGLINK_SHUTDOWN_TIMEOUT"
	envRingTimeout          = "RINGLINK_RING_TIMEOUT"
	envIdleTimeout          = "RINGLINK_WS_IDLE_TIMEOUT"
	envPingInterval         = "RINGLINK_WS_PING_INTERVAL"
	envMaxMessageBytes      = "RINGLINK_MAX_MESSAGE_BYTES"
	envMaxMessagesPerSecond = "RINGLINK_MAX_MESSAGES_PER_SECOND"
	envSendQueueSize        = "RINGLINK_SEND_QUEUE_SIZE"

	DefaultListenAddr      = ":8080"
	DefaultStaticDir       = "./static"
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultRingTimeout bounds an unanswered ringing call. Zero disables
	// the bound and lets a ring persist until answered or hung up.
	DefaultRingTimeout = 30 * time.Second

	DefaultIdleTimeout  = 60 * time.Second
	DefaultPingInterval = 20 * time.Second

	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 32
)

type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

type Config struct {
	ListenAddr string
	StaticDir  string

	LogFormat LogFormat
	LogLevel  zerolog.Level

	ShutdownTimeout time.Duration

	// RingTimeout is how long a call may ring unanswered before the server
	// terminates it and notifies both sides. Zero preserves ring-forever.
	RingTimeout time.Duration

	// IdleTimeout closes a connection with no reads (pongs included) for
	// this long; PingInterval is how often the server pings.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
}

func Default() Config {
	return Config{
		ListenAddr:           DefaultListenAddr,
		StaticDir:            DefaultStaticDir,
		LogFormat:            LogFormatConsole,
		LogLevel:             zerolog.InfoLevel,
		ShutdownTimeout:      DefaultShutdownTimeout,
		RingTimeout:          DefaultRingTimeout,
		IdleTimeout:          DefaultIdleTimeout,
		PingInterval:         DefaultPingInterval,
		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
		SendQueueSize:        DefaultSendQueueSize,
	}
}

// Load builds the configuration from the environment, then applies flag
// overrides from args.
func Load(args []string) (Config, error) {
	cfg := Default()

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envStaticDir); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.LogFormat = LogFormat(v)
	}
	if v := os.Getenv(envLogLevel); v != "" {
		level, err := zerolog.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envLogLevel, err)
		}
		cfg.LogLevel = level
	}

	var err error
	if cfg.ShutdownTimeout, err = durationEnv(envShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RingTimeout, err = durationEnv(envRingTimeout, cfg.RingTimeout); err != nil {
		return Config{}, err
	}
	if cfg.IdleTimeout, err = durationEnv(envIdleTimeout, cfg.IdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PingInterval, err = durationEnv(envPingInterval, cfg.PingInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageBytes, err = int64Env(envMaxMessageBytes, cfg.MaxMessageBytes); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond, err = intEnv(envMaxMessagesPerSecond, cfg.MaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.SendQueueSize, err = intEnv(envSendQueueSize, cfg.SendQueueSize); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("ringlink", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address to listen on")
	fs.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory served at /")
	fs.DurationVar(&cfg.RingTimeout, "ring-timeout", cfg.RingTimeout, "how long a call may ring unanswered (0 disables)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("%s: unsupported log format %q", envLogFormat, c.LogFormat)
	}
	if c.RingTimeout < 0 {
		return fmt.Errorf("%s: must not be negative", envRingTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%s: must be positive", envIdleTimeout)
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		return fmt.Errorf("%s: must be positive and below the idle timeout", envPingInterval)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s: must be positive", envMaxMessageBytes)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("%s: must be positive", envMaxMessagesPerSecond)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%s: must be positive", envSendQueueSize)
	}
	return nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func int64Env(name string, fallback int64) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
