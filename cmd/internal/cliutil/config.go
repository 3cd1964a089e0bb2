// Package cliutil holds the configuration and logging scaffolding shared by
// every cmd/* binary, grounded on coordinator.LoadConfig and
// cmd/coordinator/main.go's zap setup.
package cliutil

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the shared on-disk shape for every channel-endpoint binary. Not
// every field applies to every binary; each main.go reads the subset it
// needs and ignores the rest.
type Config struct {
	// ChannelName is the base segment/event name (spec §4.2's "name").
	ChannelName string `yaml:"channel_name"`
	// Backing selects the segment.Opener/event.Opener pair: "mem" (single
	// process, for demos and tests) or "file" (mmap'd file under BackingDir,
	// for real cross-process use).
	Backing string `yaml:"backing"`
	// BackingDir roots the file-backed segment/event namespace. Empty uses
	// the package defaults (os.TempDir()-relative).
	BackingDir string `yaml:"backing_dir"`

	RingCapacity datasize.ByteSize `yaml:"ring_capacity"`
	MaxMessages  uint32            `yaml:"max_messages"`
	BufferBytes  datasize.ByteSize `yaml:"buffer_bytes"`
	RecvBatch    uint32            `yaml:"recv_batch"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ChannelTimeout   time.Duration `yaml:"channel_timeout"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`

	MaxClients     uint32 `yaml:"max_clients"`
	ClientName     string `yaml:"client_name"`
	ClientRevision uint16 `yaml:"client_revision"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns spec §6's documented option defaults.
func DefaultConfig() *Config {
	return &Config{
		ChannelName:      "xshm-channel",
		Backing:          "file",
		RingCapacity:     datasize.ByteSize(2 * 1024 * 1024),
		MaxMessages:      250,
		BufferBytes:      datasize.ByteSize(2 * 1024 * 1024),
		RecvBatch:        32,
		HandshakeTimeout: 5000 * time.Millisecond,
		ChannelTimeout:   5000 * time.Millisecond,
		PollTimeout:      50 * time.Millisecond,
		MaxClients:       20,
		ClientName:       "xshm-client",
		ClientRevision:   1,
		LogLevel:         "info",
	}
}

// LoadConfig reads path and unmarshals it onto DefaultConfig, the way
// coordinator.LoadConfig does: defaults first, then overridden by whatever
// the file sets.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	return cfg, nil
}

// BuildLogger constructs the process-wide logger: development-formatted but
// with level controlled by cfg.LogLevel, matching cmd/coordinator/main.go's
// zap.NewDevelopmentConfig()-with-overridden-level pattern.
func BuildLogger(levelName string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Development = false

	level := zapcore.InfoLevel
	switch levelName {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}
	zcfg.Level.SetLevel(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
