package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"printmaster/telemetry/collector"
	"printmaster/telemetry/common/config"
	commonstorage "printmaster/telemetry/common/storage"
	"printmaster/telemetry/engine"
	"printmaster/telemetry/identity"
	"printmaster/telemetry/scanner"
	"printmaster/telemetry/sink"
	"printmaster/telemetry/trays"
	"printmaster/telemetry/webui"
)

// envPrefix scopes the DB_* and CONFIG overrides (TELEMETRY_DB_PATH wins over DB_PATH).
const envPrefix = "TELEMETRY"

// TelemetryConfig represents the engine configuration file
type TelemetryConfig struct {
	SNMP      SNMPConfig            `toml:"snmp"`
	Probe     ProbeConfig           `toml:"probe"`
	Collector collector.Config      `toml:"collector"`
	Trays     trays.Config          `toml:"trays"`
	WebUI     WebUIConfig           `toml:"webui"`
	Identity  IdentityConfig        `toml:"identity"`
	Database  config.DatabaseConfig `toml:"database"`
	Logging   config.LoggingConfig  `toml:"logging"`
	NATS      sink.NATSConfig       `toml:"nats"`
	MQTT      sink.MQTTConfig       `toml:"mqtt"`
	Influx    sink.InfluxConfig     `toml:"influx"`
}

// SNMPConfig holds SNMP client settings
type SNMPConfig struct {
	Community string        `toml:"community"`
	Port      int           `toml:"port"`
	TimeoutMs int           `toml:"timeout_ms"`
	Retries   int           `toml:"retries"`
	BatchSize int           `toml:"batch_size"`
	V3        []SNMPv3Entry `toml:"v3"`
}

// SNMPv3Entry binds versioned credentials to one device address. They are
// used for devices whose registry entry carries none.
type SNMPv3Entry struct {
	Address string `toml:"address"`
	commonstorage.SNMPv3Credentials
}

// ProbeConfig holds reachability probe settings
type ProbeConfig struct {
	Ports     []int `toml:"ports"`
	TimeoutMs int   `toml:"timeout_ms"`
}

// WebUIConfig wraps the console settings with a file-friendly timeout.
type WebUIConfig struct {
	webui.Config
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// IdentityConfig holds identity resolution settings
type IdentityConfig struct {
	KnownMono        []string `toml:"known_mono"`
	CorrectAddresses bool     `toml:"correct_addresses"`
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *TelemetryConfig {
	poller := scanner.DefaultPollerConfig()
	web := webui.DefaultConfig()
	return &TelemetryConfig{
		SNMP: SNMPConfig{
			Community: poller.Community,
			Port:      int(poller.Port),
			TimeoutMs: int(poller.Timeout / time.Millisecond),
			Retries:   poller.Retries,
			BatchSize: poller.BatchSize,
		},
		Probe: ProbeConfig{
			Ports:     append([]int(nil), scanner.DefaultProbePorts...),
			TimeoutMs: int(scanner.DefaultProbeTimeout / time.Millisecond),
		},
		Collector: collector.DefaultConfig(),
		Trays:     trays.DefaultConfig(),
		WebUI:     WebUIConfig{Config: web, TimeoutSeconds: int(web.Timeout / time.Second)},
		Identity: IdentityConfig{
			KnownMono: append([]string(nil), identity.DefaultKnownMono...),
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   "telemetry.db",
		},
		Logging: config.LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxAgeDays: 7,
			MaxFiles:   10,
		},
		NATS:   sink.DefaultNATSConfig(),
		MQTT:   sink.DefaultMQTTConfig(),
		Influx: sink.DefaultInfluxConfig(),
	}
}

// LoadConfig loads configuration from a TOML file with environment variable
// overrides. A missing file is an error.
func LoadConfig(configPath string) (*TelemetryConfig, error) {
	cfg := DefaultConfig()
	if err := config.LoadTOML(configPath, cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// WriteDefaultConfig writes a default configuration file
func WriteDefaultConfig(configPath string) error {
	return config.WriteDefaultTOML(configPath, DefaultConfig())
}

func applyEnvOverrides(cfg *TelemetryConfig) {
	if val := os.Getenv("SNMP_COMMUNITY"); val != "" {
		cfg.SNMP.Community = val
	}
	if val := os.Getenv("SNMP_TIMEOUT_MS"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			cfg.SNMP.TimeoutMs = timeout
		}
	}
	if val := os.Getenv("SNMP_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			cfg.SNMP.Retries = retries
		}
	}
	if val := os.Getenv("COLLECTOR_MAX_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			cfg.Collector.MaxWorkers = workers
		}
	}
	if val := os.Getenv("REFILL_THRESHOLD"); val != "" {
		if threshold, err := strconv.Atoi(val); err == nil {
			cfg.Trays.RefillThreshold = threshold
		}
	}
	if val := os.Getenv("NATS_URL"); val != "" {
		cfg.NATS.URL = val
		// Providing a broker URL turns the sink on unless explicitly disabled
		if os.Getenv("NATS_ENABLED") == "" {
			cfg.NATS.Enabled = true
		}
	}
	if val := os.Getenv("NATS_ENABLED"); val != "" {
		cfg.NATS.Enabled = truthy(val)
	}
	if val := os.Getenv("MQTT_BROKER"); val != "" {
		cfg.MQTT.Broker = val
		if os.Getenv("MQTT_ENABLED") == "" {
			cfg.MQTT.Enabled = true
		}
	}
	if val := os.Getenv("MQTT_ENABLED"); val != "" {
		cfg.MQTT.Enabled = truthy(val)
	}
	if val := os.Getenv("INFLUX_URL"); val != "" {
		cfg.Influx.URL = val
		if os.Getenv("INFLUX_ENABLED") == "" {
			cfg.Influx.Enabled = true
		}
	}
	if val := os.Getenv("INFLUX_ENABLED"); val != "" {
		cfg.Influx.Enabled = truthy(val)
	}
	if val := os.Getenv("INFLUX_TOKEN"); val != "" {
		cfg.Influx.Token = val
	}

	config.ApplyDatabaseEnvOverrides(&cfg.Database, envPrefix)
	config.ApplyLoggingEnvOverrides(&cfg.Logging)
}

func truthy(val string) bool {
	lower := strings.ToLower(strings.TrimSpace(val))
	return lower == "1" || lower == "true" || lower == "yes"
}

// EngineConfig translates the file settings into component settings.
func (c *TelemetryConfig) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.Poller = scanner.PollerConfig{
		Community: c.SNMP.Community,
		Timeout:   time.Duration(c.SNMP.TimeoutMs) * time.Millisecond,
		Retries:   c.SNMP.Retries,
		BatchSize: c.SNMP.BatchSize,
	}
	if c.SNMP.Port > 0 && c.SNMP.Port <= 65535 {
		ec.Poller.Port = uint16(c.SNMP.Port)
	}
	if len(c.Probe.Ports) > 0 {
		ec.ProbePorts = c.Probe.Ports
	}
	if c.Probe.TimeoutMs > 0 {
		ec.ProbeTimeout = time.Duration(c.Probe.TimeoutMs) * time.Millisecond
	}
	ec.WebUI = c.WebUI.Config
	if c.WebUI.TimeoutSeconds > 0 {
		ec.WebUI.Timeout = time.Duration(c.WebUI.TimeoutSeconds) * time.Second
	}
	ec.Trays = c.Trays
	ec.Collector = c.Collector
	if len(c.Identity.KnownMono) > 0 {
		ec.KnownMono = c.Identity.KnownMono
	}
	ec.CorrectAddresses = c.Identity.CorrectAddresses
	return ec
}

// Credentials returns the per-address SNMPv3 credentials of this run.
func (c *TelemetryConfig) Credentials() scanner.Credentials {
	creds := scanner.Credentials{}
	for i := range c.SNMP.V3 {
		entry := c.SNMP.V3[i]
		if entry.Address == "" || entry.Username == "" {
			continue
		}
		v3 := entry.SNMPv3Credentials
		creds[entry.Address] = &v3
	}
	return creds
}
