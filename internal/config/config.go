package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/presence"
)

// Global represents ~/.nearby/config.toml.
type Global struct {
	DefaultAccount string `toml:"default_account"`
}

// Config is the per-account ~/.nearby/accounts/<name>/config.toml.
type Config struct {
	Profile  Profile         `toml:"profile"`
	Backend  Backend         `toml:"backend"`
	Sync     Sync            `toml:"sync"`
	Scan     Scan            `toml:"scan"`
	Location Location        `toml:"location"`
	Filter   presence.Filter `toml:"filter"`
}

// Profile is the local user as published to the backend.
type Profile struct {
	ID        string      `toml:"id"`
	Name      string      `toml:"name"`
	Age       int         `toml:"age"`
	Gender    string      `toml:"gender"`
	Bio       string      `toml:"bio"`
	Avatar    string      `toml:"avatar"`
	Interests []string    `toml:"interests"`
	Tier      domain.Tier `toml:"tier"`
}

// Backend locates the backend collaborator. An empty URL runs against an
// in-process demo backend.
type Backend struct {
	URL         string        `toml:"url"`
	RealtimeURL string        `toml:"realtime_url"`
	Timeout     time.Duration `toml:"timeout"`
}

// Sync tunes the offline queue.
type Sync struct {
	MaxRetries    int           `toml:"max_retries"`
	DrainInterval time.Duration `toml:"drain_interval"`
}

// Scan tunes proximity scanning.
type Scan struct {
	Source                string        `toml:"source"`
	Interval              time.Duration `toml:"interval"`
	TxPower               float64       `toml:"tx_power"`
	PathLoss              float64       `toml:"path_loss"`
	StaleCycles           int           `toml:"stale_cycles"`
	AutoConnect           bool          `toml:"auto_connect"`
	AutoRequest           bool          `toml:"auto_request"`
	PresenceAuthoritative bool          `toml:"presence_authoritative"`
	Adapter               string        `toml:"adapter"`
	BluetoothConsent      bool          `toml:"bluetooth_consent"`
}

// Location is the fixed position used by the geo source.
type Location struct {
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// Scan sources.
const (
	SourceSimulated = "simulated"
	SourceBluetooth = "bluetooth"
	SourceGeo       = "geo"
)

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Profile: Profile{
			Gender: "other",
			Tier:   domain.TierFree,
		},
		Backend: Backend{Timeout: 10 * time.Second},
		Sync: Sync{
			MaxRetries:    3,
			DrainInterval: 30 * time.Second,
		},
		Scan: Scan{
			Source:      SourceSimulated,
			Interval:    3 * time.Second,
			TxPower:     -59,
			PathLoss:    2.5,
			StaleCycles: 3,
			AutoConnect: true,
			Adapter:     "hci0",
		},
		Filter: presence.Filter{Gender: "all"},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := domain.ParseTier(string(c.Profile.Tier)); err != nil {
		return err
	}
	switch c.Scan.Source {
	case SourceSimulated, SourceBluetooth, SourceGeo:
	default:
		return fmt.Errorf("unknown scan source %q", c.Scan.Source)
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %s", c.Scan.Interval)
	}
	if c.Scan.PathLoss <= 0 {
		return fmt.Errorf("path loss must be positive, got %v", c.Scan.PathLoss)
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive, got %d", c.Sync.MaxRetries)
	}
	return nil
}

// StaleAfter is how long a distance stays valid without a new reading.
func (c *Config) StaleAfter() time.Duration {
	if c.Scan.StaleCycles <= 0 {
		return 0
	}
	return time.Duration(c.Scan.StaleCycles) * c.Scan.Interval
}

// Load reads an account config, overlaying the file on Default. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadGlobal reads the global config. Returns error if the file is missing.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Save writes v to path, creating parent dirs as needed.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
