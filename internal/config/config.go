package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultIntervalMinutes = 30
	DefaultDurationSeconds = 5
	DefaultStopGrace       = 5 * time.Second
	DefaultTick            = 100 * time.Millisecond
	DefaultAPIPort         = 8080
	DefaultBaudrate        = 9600
	DefaultMaxRPM          = 600
	MaxRPMLimit            = math.MaxUint32 / 100
)

type PumpHardware struct {
	SerialNumber string `yaml:"serial_number"`
	// Port skips discovery by serial number when set.
	Port      string `yaml:"port"`
	Baudrate  int    `yaml:"baudrate"`
	MaxRPM    int    `yaml:"max_rpm"`
	DataBits  int    `yaml:"data_bits"`
	StopBits  int    `yaml:"stop_bits"`
	Parity    string `yaml:"parity"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PumpUnit struct {
	UnitID int `yaml:"unit_id"`
}

// OperationSettings durations are in seconds.
type OperationSettings struct {
	RetractorRPM         int     `yaml:"retractor_rpm"`
	FillDispenserRPM     int     `yaml:"fill_dispenser_rpm"`
	FillDuration         float64 `yaml:"fill_duration"`
	DispenseDispenserRPM int     `yaml:"dispense_dispenser_rpm"`
	DispenseDuration     float64 `yaml:"dispense_duration"`
	DrainDispenserRPM    int     `yaml:"drain_dispenser_rpm"`
	DrainDuration        float64 `yaml:"drain_duration"`
	OperationSleep       float64 `yaml:"operation_sleep"`

	// optional direction overrides, nil means the operation's default
	FillRetractorReverse     *bool `yaml:"fill_retractor_reverse"`
	FillDispenserReverse     *bool `yaml:"fill_dispenser_reverse"`
	DispenseRetractorReverse *bool `yaml:"dispense_retractor_reverse"`
	DispenseDispenserReverse *bool `yaml:"dispense_dispenser_reverse"`
	DrainRetractorReverse    *bool `yaml:"drain_retractor_reverse"`
	DrainDispenserReverse    *bool `yaml:"drain_dispenser_reverse"`
}

type ScheduledSettings struct {
	DefaultIntervalMinutes int  `yaml:"default_interval_minutes"`
	DefaultDurationSeconds int  `yaml:"default_duration_seconds"`
	ResumeOnStart          bool `yaml:"resume_on_start"`
}

type Runtime struct {
	Simulate         bool    `yaml:"simulate"`
	StopGraceSeconds float64 `yaml:"stop_grace_seconds"`
	TickMS           int     `yaml:"tick_ms"`
	DBPath           string  `yaml:"db_path"`
	LogFile          string  `yaml:"log_file"`
	APIPort          int     `yaml:"api_port"`
}

type Datadog struct {
	Enabled   bool     `yaml:"enabled"`
	AgentAddr string   `yaml:"agent_addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

type Config struct {
	ConfigFile string        `yaml:"-"`
	LogLevel   zerolog.Level `yaml:"-"`

	PumpHardware      PumpHardware      `yaml:"pump_hardware"`
	PumpDispenser     PumpUnit          `yaml:"pump_dispenser"`
	PumpRetractor     PumpUnit          `yaml:"pump_retractor"`
	OperationSettings OperationSettings `yaml:"operation_settings"`
	ScheduledSettings ScheduledSettings `yaml:"scheduled_settings"`
	Runtime           Runtime           `yaml:"runtime"`
	Datadog           Datadog           `yaml:"datadog"`
	NtfyTopic         string            `yaml:"ntfy_topic"`
}

// Load reads the YAML document at path, fills in defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFile = path
	return cfg, nil
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	hw := &cfg.PumpHardware
	if hw.Baudrate == 0 {
		hw.Baudrate = DefaultBaudrate
	}
	if hw.MaxRPM == 0 {
		hw.MaxRPM = DefaultMaxRPM
	}
	if hw.DataBits == 0 {
		hw.DataBits = 8
	}
	if hw.StopBits == 0 {
		hw.StopBits = 1
	}
	if hw.Parity == "" {
		hw.Parity = "N"
	}
	if hw.TimeoutMS == 0 {
		hw.TimeoutMS = 1000
	}

	if cfg.ScheduledSettings.DefaultIntervalMinutes == 0 {
		cfg.ScheduledSettings.DefaultIntervalMinutes = DefaultIntervalMinutes
	}
	if cfg.ScheduledSettings.DefaultDurationSeconds == 0 {
		cfg.ScheduledSettings.DefaultDurationSeconds = DefaultDurationSeconds
	}

	if cfg.Runtime.StopGraceSeconds == 0 {
		cfg.Runtime.StopGraceSeconds = DefaultStopGrace.Seconds()
	}
	if cfg.Runtime.TickMS == 0 {
		cfg.Runtime.TickMS = int(DefaultTick / time.Millisecond)
	}
	if cfg.Runtime.DBPath == "" {
		cfg.Runtime.DBPath = "data/pump-controller.db"
	}
	if cfg.Runtime.APIPort == 0 {
		cfg.Runtime.APIPort = DefaultAPIPort
	}
}

func (cfg *Config) validate() error {
	var problems []string

	hw := cfg.PumpHardware
	if !cfg.Runtime.Simulate && hw.SerialNumber == "" && hw.Port == "" {
		problems = append(problems, "pump_hardware.serial_number or pump_hardware.port is required")
	}
	if hw.MaxRPM < 0 {
		problems = append(problems, "pump_hardware.max_rpm must be positive")
	}
	// rpm*100 is written to a 32-bit register pair
	if int64(hw.MaxRPM) > MaxRPMLimit {
		problems = append(problems, fmt.Sprintf("pump_hardware.max_rpm must not exceed %d", MaxRPMLimit))
	}
	switch strings.ToUpper(hw.Parity) {
	case "N", "E", "O":
	default:
		problems = append(problems, fmt.Sprintf("pump_hardware.parity %q must be one of N, E, O", hw.Parity))
	}

	if cfg.PumpDispenser.UnitID < 1 || cfg.PumpDispenser.UnitID > 247 {
		problems = append(problems, "pump_dispenser.unit_id must be between 1 and 247")
	}
	if cfg.PumpRetractor.UnitID < 1 || cfg.PumpRetractor.UnitID > 247 {
		problems = append(problems, "pump_retractor.unit_id must be between 1 and 247")
	}
	if cfg.PumpDispenser.UnitID == cfg.PumpRetractor.UnitID {
		problems = append(problems, fmt.Sprintf("pump_dispenser and pump_retractor both use unit_id %d", cfg.PumpDispenser.UnitID))
	}

	ops := cfg.OperationSettings
	for name, rpm := range map[string]int{
		"retractor_rpm":          ops.RetractorRPM,
		"fill_dispenser_rpm":     ops.FillDispenserRPM,
		"dispense_dispenser_rpm": ops.DispenseDispenserRPM,
		"drain_dispenser_rpm":    ops.DrainDispenserRPM,
	} {
		if rpm < 0 {
			problems = append(problems, fmt.Sprintf("operation_settings.%s must not be negative", name))
		}
	}
	for name, d := range map[string]float64{
		"fill_duration":     ops.FillDuration,
		"dispense_duration": ops.DispenseDuration,
		"drain_duration":    ops.DrainDuration,
		"operation_sleep":   ops.OperationSleep,
	} {
		if d < 0 {
			problems = append(problems, fmt.Sprintf("operation_settings.%s must not be negative", name))
		}
	}

	if cfg.ScheduledSettings.DefaultIntervalMinutes < 0 || cfg.ScheduledSettings.DefaultDurationSeconds < 0 {
		problems = append(problems, "scheduled_settings values must not be negative")
	}
	if cfg.Runtime.TickMS < 0 || cfg.Runtime.StopGraceSeconds < 0 {
		problems = append(problems, "runtime.tick_ms and runtime.stop_grace_seconds must not be negative")
	}

	if len(problems) > 0 {
		// map iteration above is unordered
		sort.Strings(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (cfg *Config) StopGrace() time.Duration {
	return time.Duration(cfg.Runtime.StopGraceSeconds * float64(time.Second))
}

func (cfg *Config) Tick() time.Duration {
	return time.Duration(cfg.Runtime.TickMS) * time.Millisecond
}

func (hw PumpHardware) Timeout() time.Duration {
	return time.Duration(hw.TimeoutMS) * time.Millisecond
}

func ParseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
