// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/log"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `leakwatch:` root key in YAML.
type GlobalConfig struct {
	Log         log.LoggerConfig  `mapstructure:"log"`
	Inspector   InspectorConfig   `mapstructure:"inspector"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Filters     FiltersConfig     `mapstructure:"filters"`
	Location    LocationConfig    `mapstructure:"location"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	LeakLog     LeakLogConfig     `mapstructure:"leak_log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Replay      ReplayConfig      `mapstructure:"replay"`
}

// ─── Inspection ───

// InspectorConfig sizes the worker pool and toggles scanning.
type InspectorConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Workers       int  `mapstructure:"workers"`    // 0 = GOMAXPROCS
	QueueSize     int  `mapstructure:"queue_size"` // jobs buffered ahead of the workers
	MaxPacketSize int  `mapstructure:"max_packet_size"`
}

// ─── Capture ───

// CaptureConfig controls pcapng capture files.
type CaptureConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Dir             string `mapstructure:"dir"`
	ActivePrefix    string `mapstructure:"active_prefix"`
	CompletedPrefix string `mapstructure:"completed_prefix"`
	InstallationID  string `mapstructure:"installation_id"`
	Hardware        string `mapstructure:"hardware"`
	OS              string `mapstructure:"os"`
	UserApp         string `mapstructure:"user_app"`
	IfName          string `mapstructure:"if_name"`
	IfDescription   string `mapstructure:"if_description"`
	IfIPv4          string `mapstructure:"if_ipv4"`
	IfMAC           string `mapstructure:"if_mac"`
	IfFilter        string `mapstructure:"if_filter"`
	TSResolution    uint8  `mapstructure:"ts_resolution"` // negative power of ten
}

// ─── Filters & location ───

// FiltersConfig points at the filter rule file.
type FiltersConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// LocationConfig supplies a static device location.
type LocationConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// ─── Attribution ───

// AttributionConfig selects how connections map to apps.
type AttributionConfig struct {
	Mode     string            `mapstructure:"mode"`   // static | procnet
	Static   map[string]string `mapstructure:"static"` // local port -> app name
	ProcRoot string            `mapstructure:"proc_root"`
	CacheTTL time.Duration     `mapstructure:"cache_ttl"`
}

// ─── Leak log ───

// LeakLogConfig configures asynchronous leak log dispatch.
type LeakLogConfig struct {
	Partitions int                `mapstructure:"partitions"`
	QueueSize  int                `mapstructure:"queue_size"`
	Sinks      []string           `mapstructure:"sinks"` // log | kafka
	Kafka      KafkaLeakLogConfig `mapstructure:"kafka"`
}

// KafkaLeakLogConfig is the Kafka sink connection.
type KafkaLeakLogConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Replay ───

// ReplayConfig tunes offline replay.
type ReplayConfig struct {
	BPFEligibility bool `mapstructure:"bpf_eligibility"`
}

// ─── Loading ───

type configRoot struct {
	Leakwatch GlobalConfig `mapstructure:"leakwatch"`
}

// Load loads configuration from file. An empty path loads defaults only.
// Env vars override file values with the LEAKWATCH_ prefix
// (e.g. LEAKWATCH_LOG_LEVEL for leakwatch.log.level).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Leakwatch

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values, all keys under the "leakwatch." prefix.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("leakwatch.log.level", "info")
	v.SetDefault("leakwatch.log.pattern", log.DefaultPattern)
	v.SetDefault("leakwatch.log.time", log.DefaultTime)

	// Inspector defaults
	v.SetDefault("leakwatch.inspector.enabled", true)
	v.SetDefault("leakwatch.inspector.workers", 0)
	v.SetDefault("leakwatch.inspector.queue_size", 1024)
	v.SetDefault("leakwatch.inspector.max_packet_size", 16384)

	// Capture defaults
	v.SetDefault("leakwatch.capture.enabled", false)
	v.SetDefault("leakwatch.capture.dir", "/var/lib/leakwatch/captures")
	v.SetDefault("leakwatch.capture.active_prefix", "STREAM_")
	v.SetDefault("leakwatch.capture.completed_prefix", "COMPLETED_")
	v.SetDefault("leakwatch.capture.user_app", "leakwatch")
	v.SetDefault("leakwatch.capture.if_name", "tun0")
	v.SetDefault("leakwatch.capture.if_filter", "DefaultPacketLogger")
	v.SetDefault("leakwatch.capture.ts_resolution", 3)

	// Attribution defaults
	v.SetDefault("leakwatch.attribution.mode", "static")
	v.SetDefault("leakwatch.attribution.proc_root", "/proc")
	v.SetDefault("leakwatch.attribution.cache_ttl", "30s")

	// Leak log defaults
	v.SetDefault("leakwatch.leak_log.partitions", 4)
	v.SetDefault("leakwatch.leak_log.queue_size", 1024)
	v.SetDefault("leakwatch.leak_log.sinks", []string{"log"})
	v.SetDefault("leakwatch.leak_log.kafka.batch_size", 100)
	v.SetDefault("leakwatch.leak_log.kafka.batch_timeout", "100ms")
	v.SetDefault("leakwatch.leak_log.kafka.compression", "snappy")

	// Metrics defaults
	v.SetDefault("leakwatch.metrics.enabled", false)
	v.SetDefault("leakwatch.metrics.listen", ":9091")
	v.SetDefault("leakwatch.metrics.path", "/metrics")

	// Replay defaults
	v.SetDefault("leakwatch.replay.bpf_eligibility", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("%w: log level %q (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}

	// ── Inspector ──
	if cfg.Inspector.Workers < 0 {
		return fmt.Errorf("%w: inspector.workers must be >= 0", core.ErrConfigInvalid)
	}
	if cfg.Inspector.QueueSize <= 0 {
		cfg.Inspector.QueueSize = 1024
	}
	if cfg.Inspector.MaxPacketSize <= 0 {
		cfg.Inspector.MaxPacketSize = 16384
	}

	// ── Capture ──
	if cfg.Capture.Enabled && cfg.Capture.Dir == "" {
		return fmt.Errorf("%w: capture.dir is required when capture.enabled=true", core.ErrConfigInvalid)
	}
	if cfg.Capture.ActivePrefix == cfg.Capture.CompletedPrefix {
		return fmt.Errorf("%w: capture prefixes must differ", core.ErrConfigInvalid)
	}
	if cfg.Capture.TSResolution > 9 {
		return fmt.Errorf("%w: capture.ts_resolution %d (max 9)", core.ErrConfigInvalid, cfg.Capture.TSResolution)
	}

	// ── Location ──
	if cfg.Location.Enabled {
		if cfg.Location.Latitude < -90 || cfg.Location.Latitude > 90 {
			return fmt.Errorf("%w: location.latitude %v", core.ErrConfigInvalid, cfg.Location.Latitude)
		}
		if cfg.Location.Longitude < -180 || cfg.Location.Longitude > 180 {
			return fmt.Errorf("%w: location.longitude %v", core.ErrConfigInvalid, cfg.Location.Longitude)
		}
	}

	// ── Attribution ──
	switch cfg.Attribution.Mode {
	case "static", "procnet":
	default:
		return fmt.Errorf("%w: attribution.mode %q (must be static/procnet)", core.ErrConfigInvalid, cfg.Attribution.Mode)
	}

	// ── Leak log ──
	if cfg.LeakLog.Partitions <= 0 {
		cfg.LeakLog.Partitions = 1
	}
	for _, s := range cfg.LeakLog.Sinks {
		switch s {
		case "log":
		case "kafka":
			if len(cfg.LeakLog.Kafka.Brokers) == 0 {
				return fmt.Errorf("%w: leak_log.kafka.brokers is required for the kafka sink", core.ErrConfigInvalid)
			}
			if cfg.LeakLog.Kafka.Topic == "" {
				return fmt.Errorf("%w: leak_log.kafka.topic is required for the kafka sink", core.ErrConfigInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown leak_log sink %q", core.ErrConfigInvalid, s)
		}
	}

	return nil
}
