// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration, keyed under the
// `sngcore:` root in YAML. Every field maps to a key named in spec.md §6.4,
// plus the (NEW) reassembly/fragment-limit and Kafka mirror keys SPEC_FULL.md
// §6 adds.
type GlobalConfig struct {
	Capture CaptureConfig `mapstructure:"capture"`
	HEP     HEPConfig     `mapstructure:"hep"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig controls call/stream storage policy and the TLS/reassembly
// knobs the capture manager applies to every pcap-backed input.
type CaptureConfig struct {
	Limit             int    `mapstructure:"limit"`              // max concurrent calls
	RTP               bool   `mapstructure:"rtp"`                // include RTP in storage
	Rotate            bool   `mapstructure:"rotate"`             // evict oldest on limit reached
	Storage           string `mapstructure:"storage"`            // none | memory | disk
	TLSServer         string `mapstructure:"tls_server"`          // "ip:port", restricts TLS tracking
	Keyfile           string `mapstructure:"keyfile"`             // RSA PEM key for TLS decrypt
	PCAPBufferSizeMB  int    `mapstructure:"pcap_buffer_size"`
	ReassemblyTimeout string `mapstructure:"reassembly_timeout"` // (NEW) e.g. "60s"
	FragmentRateLimit int    `mapstructure:"fragment_rate_limit"` // (NEW) fragments/sec per source IP, 0=disabled
}

// ─── HEP mirror ───

// HEPConfig configures the HEP2/HEP3 mirror transport (send side, and the
// listen side that lets this instance act as a collector for another node).
// spec.md §6.4 names hep.send/hep.send.addr/... as siblings; send/listen are
// modeled here as sections with their own "enabled" key so mapstructure can
// nest them cleanly.
type HEPConfig struct {
	Send   HEPSendConfig   `mapstructure:"send"`
	Listen HEPListenConfig `mapstructure:"listen"`
}

// HEPSendConfig is where captured SIP messages are mirrored to.
type HEPSendConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Port     int    `mapstructure:"port"`
	Version  int    `mapstructure:"ver"` // 2 or 3
	Password string `mapstructure:"password"`
	ID       int    `mapstructure:"id"`
}

// HEPListenConfig is the local collector endpoint other nodes mirror to.
type HEPListenConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Port     int    `mapstructure:"port"`
	Version  int    `mapstructure:"ver"`
	Password string `mapstructure:"password"`
}

// ─── Output (NEW) ───

// OutputConfig holds non-HEP mirror outputs.
type OutputConfig struct {
	Kafka KafkaOutputConfig `mapstructure:"kafka"`
}

// KafkaOutputConfig configures the Kafka mirror sink (NEW, SPEC_FULL.md §6).
type KafkaOutputConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	BatchSize   int      `mapstructure:"batch_size"`
	Compression string   `mapstructure:"compression"` // none | gzip | snappy | lz4
}

// ─── Log ───

// LogConfig holds the settings of internal/otuslog.Config, with the rotation
// fields nested under Rotation; cmd/start.go copies them into otuslog.Init.
type LogConfig struct {
	Level      string         `mapstructure:"level"`
	JSON       bool           `mapstructure:"json"`
	File       string         `mapstructure:"file"`
	Rotation   RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures lumberjack-backed log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `sngcore: ...`.
type configRoot struct {
	Sngcore GlobalConfig `mapstructure:"sngcore"`
}

// Load loads configuration from file. The YAML file uses `sngcore:` as its
// root key; env vars use the SNGCORE_ prefix (e.g. SNGCORE_LOG_LEVEL), since
// the `sngcore.` key prefix naturally maps there via the dot-to-underscore
// key replacer.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Sngcore

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration, all under the
// "sngcore." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("sngcore.capture.limit", 0)
	v.SetDefault("sngcore.capture.storage", "memory")
	v.SetDefault("sngcore.capture.pcap_buffer_size", 2)
	v.SetDefault("sngcore.capture.reassembly_timeout", "60s")
	v.SetDefault("sngcore.capture.fragment_rate_limit", 0)

	v.SetDefault("sngcore.hep.send.ver", 3)
	v.SetDefault("sngcore.hep.listen.ver", 3)

	v.SetDefault("sngcore.output.kafka.batch_size", 100)
	v.SetDefault("sngcore.output.kafka.compression", "snappy")

	v.SetDefault("sngcore.log.level", "info")
	v.SetDefault("sngcore.log.json", true)
	v.SetDefault("sngcore.log.rotation.max_size_mb", 100)
	v.SetDefault("sngcore.log.rotation.max_age_days", 30)
	v.SetDefault("sngcore.log.rotation.max_backups", 5)
	v.SetDefault("sngcore.log.rotation.compress", true)
}

var validStorage = map[string]bool{"none": true, "memory": true, "disk": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "trace": true}

// ValidateAndApplyDefaults validates configuration values that setDefaults
// can't express as a static default (enums, cross-field checks).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if !validStorage[cfg.Capture.Storage] {
		return fmt.Errorf("invalid capture.storage: %s (must be none/memory/disk)", cfg.Capture.Storage)
	}
	if cfg.HEP.Send.Enabled && cfg.HEP.Send.Version != 2 && cfg.HEP.Send.Version != 3 {
		return fmt.Errorf("invalid hep.send.ver: %d (must be 2 or 3)", cfg.HEP.Send.Version)
	}
	if cfg.HEP.Listen.Enabled && cfg.HEP.Listen.Version != 2 && cfg.HEP.Listen.Version != 3 {
		return fmt.Errorf("invalid hep.listen.ver: %d (must be 2 or 3)", cfg.HEP.Listen.Version)
	}
	return nil
}
