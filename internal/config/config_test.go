package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recode/pkg/bytesize"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "tasks.state", cfg.Storage.StateName)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, defaultUpdateDelay, cfg.Scheduler.UpdateDelay)
	assert.Equal(t, defaultStaticLimitIO, cfg.Scheduler.StaticLimitIO)
	assert.Equal(t, defaultStaticLimitCPU, cfg.Scheduler.StaticLimitCPU)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{UpdateDelay: defaultUpdateDelay},
	}
	assert.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Logging.Level = "loud"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Logging.Format = "xml"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Scheduler.UpdateDelay = 0
	assert.Error(t, bad.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/does-not-exist.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadParsesExtendedDurationUnits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".recode.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  update_delay: 2d\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.UpdateDelay)
}

func TestLoadStillParsesPlainGoDurationUnits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".recode.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  update_delay: 45s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.UpdateDelay)
}

func TestMinFreeDiskSpaceBytes(t *testing.T) {
	s := SchedulerConfig{}
	got, err := s.MinFreeDiskSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, bytesize.Size(0), got)

	s.MinFreeDiskSpace = "10GB"
	got, err = s.MinFreeDiskSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, bytesize.MustParse("10GB"), got)
}

func TestValidateRejectsUnparsableMinFreeDiskSpace(t *testing.T) {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{UpdateDelay: defaultUpdateDelay, MinFreeDiskSpace: "not-a-size"},
	}
	assert.Error(t, cfg.Validate())
}
