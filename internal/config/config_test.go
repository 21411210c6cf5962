// Package config provides configuration management for voicevault.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultMaxDurationSec, cfg.MaxDurationSec)
	s.Equal(DefaultLevelHistorySize, cfg.LevelHistorySize)
	s.Equal(DefaultLevelFloorDB, cfg.LevelFloorDB)
	s.Equal(DefaultSegmentIntervalSec, cfg.SegmentIntervalSec)
	s.Equal(24, cfg.ReconcileHours)
	s.Equal(int64(1), cfg.Costs.TranscribePerMinute)
	s.Equal(int64(5), cfg.Costs.Summarize)
	s.Equal(int64(0), cfg.Costs.Trim)
}

// TestPaths tests data directory derived paths.
func (s *ConfigSuite) TestPaths() {
	s.Contains(DataDir(), ".voicevault")
	s.Contains(CatalogPath(), "catalog.json")
	s.Contains(BackupPath(), filepath.Join("backup", "catalog.json"))
	s.Contains(DBPath(), "voicevault.db")
	s.Contains(SettingsPath(), "config.yaml")
}

// TestEnsureAll tests directory creation.
func (s *ConfigSuite) TestEnsureAll() {
	s.NoError(EnsureAll())

	for _, dir := range []string{DataDir(), RecordingsDir(), DerivedDir(), filepath.Dir(BackupPath())} {
		info, err := os.Stat(dir)
		s.NoError(err)
		s.True(info.IsDir())
	}
}

// TestLoadMissingFile tests that a missing config file yields defaults.
func (s *ConfigSuite) TestLoadMissingFile() {
	cfg, err := Load()
	s.NoError(err)
	s.Equal(Default(), cfg)
}

// TestSaveLoadRoundTrip tests config persistence.
func (s *ConfigSuite) TestSaveLoadRoundTrip() {
	cfg := Default()
	cfg.AccountID = "user-42"
	cfg.SegmentIntervalSec = 300
	cfg.Costs.Summarize = 7
	cfg.Remote.LedgerURL = "http://ledger.local"
	s.Require().NoError(Save(cfg))

	loaded, err := Load()
	s.Require().NoError(err)
	s.Equal("user-42", loaded.AccountID)
	s.Equal(300, loaded.SegmentIntervalSec)
	s.Equal(int64(7), loaded.Costs.Summarize)
	s.Equal("http://ledger.local", loaded.Remote.LedgerURL)
}

// TestLoadNormalizesZeroValues tests that bad values fall back to defaults.
func (s *ConfigSuite) TestLoadNormalizesZeroValues() {
	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte("max_duration_sec: 0\nsegment_interval_sec: -1\n"), 0o644))

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(DefaultMaxDurationSec, cfg.MaxDurationSec)
	s.Equal(DefaultSegmentIntervalSec, cfg.SegmentIntervalSec)
}
