// Package config provides configuration management for voicevault.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults for tunables that matter to the recording pipeline.
const (
	// DefaultMaxDurationSec caps a single capture session at 30 minutes.
	DefaultMaxDurationSec = 1800
	// DefaultSegmentIntervalSec is the default split interval.
	DefaultSegmentIntervalSec = 600
	// NoSplitIntervalSec is the sentinel interval meaning "do not split".
	NoSplitIntervalSec = 999999
	// DefaultLevelHistorySize bounds the metering ring buffer.
	DefaultLevelHistorySize = 50
	// DefaultLevelFloorDB is the clamp floor for level samples (silence).
	DefaultLevelFloorDB = -160.0

	DefaultListenAddr = "127.0.0.1:8490"
	DefaultMaxConns   = 4
)

// SegmentIntervals are the selectable split intervals, in seconds.
var SegmentIntervals = []int{60, 300, DefaultSegmentIntervalSec, NoSplitIntervalSec}

// Costs holds per-operation coin prices. Transcription is priced per started
// minute of audio; everything else is flat per call.
type Costs struct {
	TranscribePerMinute int64 `yaml:"transcribe_per_minute"`
	Summarize           int64 `yaml:"summarize"`
	Trim                int64 `yaml:"trim"`
	Enhance             int64 `yaml:"enhance"`
	Segment             int64 `yaml:"segment"`
}

// Remote holds endpoints and credentials for the remote collaborators.
type Remote struct {
	TranscribeURL string `yaml:"transcribe_url"`
	SummarizeURL  string `yaml:"summarize_url"`
	LedgerURL     string `yaml:"ledger_url"`
	APIKey        string `yaml:"api_key"`
}

// Config holds voicevault configuration.
type Config struct {
	AccountID          string  `yaml:"account_id"`
	ListenAddr         string  `yaml:"listen_addr"`
	MaxConns           int     `yaml:"max_conns"`
	MaxDurationSec     int     `yaml:"max_duration_sec"`
	LevelHistorySize   int     `yaml:"level_history_size"`
	LevelFloorDB       float64 `yaml:"level_floor_db"`
	SegmentIntervalSec int     `yaml:"segment_interval_sec"`
	ReconcileHours     int     `yaml:"reconcile_hours"`
	OutboxDrainSec     int     `yaml:"outbox_drain_sec"`
	GiftCoins          int64   `yaml:"gift_coins"`
	LogFile            string  `yaml:"log_file"`
	Costs              Costs   `yaml:"costs"`
	Remote             Remote  `yaml:"remote"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		AccountID:          "local",
		ListenAddr:         DefaultListenAddr,
		MaxConns:           DefaultMaxConns,
		MaxDurationSec:     DefaultMaxDurationSec,
		LevelHistorySize:   DefaultLevelHistorySize,
		LevelFloorDB:       DefaultLevelFloorDB,
		SegmentIntervalSec: DefaultSegmentIntervalSec,
		ReconcileHours:     24,
		OutboxDrainSec:     60,
		GiftCoins:          30,
		Costs: Costs{
			TranscribePerMinute: 1,
			Summarize:           5,
		},
	}
}

// DataDir returns the voicevault data directory (~/.voicevault).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".voicevault")
}

// RecordingsDir returns the directory holding original captures.
func RecordingsDir() string {
	return filepath.Join(DataDir(), "recordings")
}

// DerivedDir returns the directory holding derived artifacts.
func DerivedDir() string {
	return filepath.Join(DataDir(), "derived")
}

// CatalogPath returns the primary catalog store path.
func CatalogPath() string {
	return filepath.Join(DataDir(), "catalog.json")
}

// BackupPath returns the backup catalog store path.
func BackupPath() string {
	return filepath.Join(DataDir(), "backup", "catalog.json")
}

// DBPath returns the SQLite side-ledger path.
func DBPath() string {
	return filepath.Join(DataDir(), "voicevault.db")
}

// SettingsPath returns the config file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureAll creates every directory voicevault writes to.
func EnsureAll() error {
	for _, dir := range []string{
		DataDir(),
		RecordingsDir(),
		DerivedDir(),
		filepath.Dir(BackupPath()),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads the config file, filling unset fields with defaults.
// A missing file yields the defaults without error.
func Load() (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the config file.
func Save(cfg *Config) error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(SettingsPath(), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MaxDurationSec <= 0 {
		c.MaxDurationSec = DefaultMaxDurationSec
	}
	if c.LevelHistorySize <= 0 {
		c.LevelHistorySize = DefaultLevelHistorySize
	}
	if c.LevelFloorDB == 0 {
		c.LevelFloorDB = DefaultLevelFloorDB
	}
	if c.SegmentIntervalSec <= 0 {
		c.SegmentIntervalSec = DefaultSegmentIntervalSec
	}
	if c.ReconcileHours <= 0 {
		c.ReconcileHours = 24
	}
	if c.OutboxDrainSec <= 0 {
		c.OutboxDrainSec = 60
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
}
