// Package config holds the daemon configuration. It is built once at startup
// (defaults, then an optional YAML file, then command-line flags) and treated
// as immutable afterwards.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/camnode/internal/fault"
)

// Profile is a set of operating parameters applied as a unit.
type Profile struct {
	CPUFrequencyHz uint32        `yaml:"cpu_hz"`
	Sleep          time.Duration `yaml:"sleep"`
}

// Battery configures the power-state hysteresis.
type Battery struct {
	LowVolts      float64       `yaml:"low_volts"`
	HighVolts     float64       `yaml:"high_volts"`
	MinValidVolts float64       `yaml:"min_valid_volts"`
	MaxValidVolts float64       `yaml:"max_valid_volts"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// Profiles holds the two operating profiles.
type Profiles struct {
	Normal    Profile `yaml:"normal"`
	PowerSave Profile `yaml:"power_save"`
}

// Intervals gate each periodic action.
type Intervals struct {
	NetworkTick time.Duration `yaml:"network_tick"`
	Upload      time.Duration `yaml:"upload"`
	OTACheck    time.Duration `yaml:"ota_check"`
	MeshCheck   time.Duration `yaml:"mesh_check"`
	StatusLog   time.Duration `yaml:"status_log"`
}

// Backoff bounds the reconnect delay.
type Backoff struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// Timeouts bound every I/O operation.
type Timeouts struct {
	Connect time.Duration `yaml:"connect"`
	Upload  time.Duration `yaml:"upload"`
	OTA     time.Duration `yaml:"ota"`
	Sample  time.Duration `yaml:"sample"`
}

// Upload configures the upload queue.
type Upload struct {
	BatchSize int `yaml:"batch_size"`
}

// Mesh configures peer health checks.
type Mesh struct {
	Heartbeat time.Duration `yaml:"heartbeat"`
	Service   string        `yaml:"service"`
	Port      int           `yaml:"port"`
}

// OTA configures firmware updates.
type OTA struct {
	URL            string `yaml:"url"`
	PublicKey      string `yaml:"public_key"` // hex-encoded ed25519 key
	SlotDir        string `yaml:"slot_dir"`
	RunningVersion string `yaml:"running_version"`
	AutoApply      bool   `yaml:"auto_apply"`
}

// Endpoints lists the external services the daemon talks to.
type Endpoints struct {
	Broker    string `yaml:"broker"`
	Redis     string `yaml:"redis"`
	HTTPAddr  string `yaml:"http"`
	Interface string `yaml:"interface"`
	RadioChip string `yaml:"radio_chip"`
	RadioPin  int    `yaml:"radio_pin"`
	CPUFreq   string `yaml:"cpufreq_path"`
}

// Config is the complete daemon configuration.
type Config struct {
	NodeID        string `yaml:"node_id"`
	LogLevel      string `yaml:"log_level"`
	LinkEnabled   bool   `yaml:"link_enabled"`
	OTAEnabled    bool   `yaml:"ota_enabled"`
	MeshEnabled   bool   `yaml:"mesh_enabled"`
	UploadEnabled bool   `yaml:"upload_enabled"`

	Battery   Battery   `yaml:"battery"`
	Profiles  Profiles  `yaml:"profiles"`
	Intervals Intervals `yaml:"intervals"`
	Backoff   Backoff   `yaml:"backoff"`
	Timeouts  Timeouts  `yaml:"timeouts"`
	Upload    Upload    `yaml:"upload"`
	Mesh      Mesh      `yaml:"mesh"`
	OTA       OTA       `yaml:"ota"`
	Endpoints Endpoints `yaml:"endpoints"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:      "info",
		LinkEnabled:   true,
		OTAEnabled:    true,
		MeshEnabled:   true,
		UploadEnabled: true,
		Battery: Battery{
			LowVolts:      3.0,
			HighVolts:     3.4,
			MinValidVolts: 2.0,
			MaxValidVolts: 5.0,
			MaxAge:        5 * time.Minute,
		},
		Profiles: Profiles{
			Normal:    Profile{CPUFrequencyHz: 240_000_000, Sleep: 10 * time.Second},
			PowerSave: Profile{CPUFrequencyHz: 80_000_000, Sleep: 60 * time.Second},
		},
		Intervals: Intervals{
			NetworkTick: 30 * time.Second,
			Upload:      5 * time.Minute,
			OTACheck:    time.Hour,
			MeshCheck:   2 * time.Minute,
			StatusLog:   5 * time.Minute,
		},
		Backoff: Backoff{Base: time.Second, Max: 60 * time.Second},
		Timeouts: Timeouts{
			Connect: 10 * time.Second,
			Upload:  15 * time.Second,
			OTA:     2 * time.Minute,
			Sample:  2 * time.Second,
		},
		Upload: Upload{BatchSize: 10},
		Mesh:   Mesh{Heartbeat: time.Minute, Service: "_camnode._udp", Port: 5353},
		OTA: OTA{
			SlotDir:        "/var/lib/camnode/firmware",
			RunningVersion: "v0.0.0",
		},
		Endpoints: Endpoints{
			Broker:    "tcp://192.168.1.200:1883",
			Redis:     "127.0.0.1:6379",
			HTTPAddr:  ":80",
			RadioChip: "gpiochip0",
			RadioPin:  17,
			CPUFreq:   "/sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports inconsistent settings. Any error here is fatal at startup.
func (c Config) Validate() error {
	b := c.Battery
	if b.HighVolts <= b.LowVolts {
		return fmt.Errorf("%w: battery high threshold %.2fV must exceed low threshold %.2fV",
			fault.ErrConfigInconsistent, b.HighVolts, b.LowVolts)
	}
	if b.MinValidVolts >= b.MaxValidVolts {
		return fmt.Errorf("%w: battery valid range [%.2f, %.2f] is empty",
			fault.ErrConfigInconsistent, b.MinValidVolts, b.MaxValidVolts)
	}
	if c.Backoff.Base <= 0 || c.Backoff.Max < c.Backoff.Base {
		return fmt.Errorf("%w: backoff base %v / max %v", fault.ErrConfigInconsistent, c.Backoff.Base, c.Backoff.Max)
	}
	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"network_tick", c.Intervals.NetworkTick},
		{"upload", c.Intervals.Upload},
		{"ota_check", c.Intervals.OTACheck},
		{"mesh_check", c.Intervals.MeshCheck},
		{"status_log", c.Intervals.StatusLog},
		{"normal sleep", c.Profiles.Normal.Sleep},
		{"power_save sleep", c.Profiles.PowerSave.Sleep},
		{"mesh heartbeat", c.Mesh.Heartbeat},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%w: %s interval must be positive, got %v", fault.ErrConfigInconsistent, iv.name, iv.d)
		}
	}
	if c.Upload.BatchSize < 1 {
		return fmt.Errorf("%w: upload batch size must be at least 1", fault.ErrConfigInconsistent)
	}
	return nil
}
