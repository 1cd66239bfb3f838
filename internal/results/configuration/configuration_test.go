package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladiki/Lean/internal/common/config"
)

const defaultConfigPath = "../../../config/resultsd"

func loadDefault(t *testing.T, overrides ...string) ResultsConfiguration {
	var c ResultsConfiguration
	_, err := config.LoadConfig(&c, defaultConfigPath, overrides, "")
	require.NoError(t, err)
	return c
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := loadDefault(t)
	require.NoError(t, c.Validate())

	assert.Equal(t, 4000, c.Sampling.SampleBudget)
	assert.Equal(t, 4*time.Minute, c.Sampling.MinResamplePeriod)
	assert.Equal(t, 30*time.Second, c.Sampling.StoragePeriod)
	assert.Equal(t, 0.999, c.Sampling.ProgressCeiling)
	assert.Equal(t, 50*time.Millisecond, c.Dispatcher.IdleWait)
	assert.Equal(t, 500, c.Dispatcher.MaxQueuedMessages)
	assert.Equal(t, config.ByteSize(1<<20), c.Dispatcher.MaxLivePacketBytes)
	assert.Equal(t, StorageTypeMemory, c.Storage.Type)
	assert.Equal(t, "5432", c.Storage.Postgres.Connection["port"])
	assert.Equal(t, []NotifierType{NotifierTypeLog}, c.Notifier.Types)
	assert.Equal(t, config.ByteSize(10<<20), c.Allowance.PerRunCapBytes)
	assert.Equal(t, time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), c.Simulation.PeriodStart.UTC())
	assert.False(t, c.UsesRedis())
}

func TestOverridesAreMerged(t *testing.T) {
	override := filepath.Join(t.TempDir(), "override.yaml")
	content := "storage:\n  type: sqlite\nnotifier:\n  types: [log, redis]\n"
	require.NoError(t, os.WriteFile(override, []byte(content), 0o644))

	c := loadDefault(t, override)
	require.NoError(t, c.Validate())
	assert.Equal(t, StorageTypeSQLite, c.Storage.Type)
	assert.Equal(t, []NotifierType{NotifierTypeLog, NotifierTypeRedis}, c.Notifier.Types)
	assert.True(t, c.UsesRedis())
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *ResultsConfiguration){
		"zero sample budget":      func(c *ResultsConfiguration) { c.Sampling.SampleBudget = 0 },
		"progress ceiling of one": func(c *ResultsConfiguration) { c.Sampling.ProgressCeiling = 1 },
		"unknown storage":         func(c *ResultsConfiguration) { c.Storage.Type = "s3" },
		"sqlite without path": func(c *ResultsConfiguration) {
			c.Storage.Type = StorageTypeSQLite
			c.Storage.SQLite.Path = ""
		},
		"postgres without connection": func(c *ResultsConfiguration) {
			c.Storage.Type = StorageTypePostgres
			c.Storage.Postgres.Connection = nil
		},
		"unknown notifier": func(c *ResultsConfiguration) { c.Notifier.Types = []NotifierType{"carrier-pigeon"} },
		"no notifiers":     func(c *ResultsConfiguration) { c.Notifier.Types = nil },
		"pulsar without topic": func(c *ResultsConfiguration) {
			c.Notifier.Types = []NotifierType{NotifierTypePulsar}
			c.Notifier.Pulsar.ResultsTopic = ""
		},
		"nats without url": func(c *ResultsConfiguration) {
			c.Notifier.Types = []NotifierType{NotifierTypeNats}
			c.Notifier.Nats.Url = ""
		},
		"redis without addresses": func(c *ResultsConfiguration) {
			c.Allowance.Type = AllowanceTypeRedis
			c.Redis.Addrs = nil
		},
		"simulation ends before it starts": func(c *ResultsConfiguration) {
			c.Simulation.PeriodFinish = c.Simulation.PeriodStart.Add(-time.Hour)
		},
		"bad log level": func(c *ResultsConfiguration) { c.Logging.Level = "loud" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := loadDefault(t)
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
