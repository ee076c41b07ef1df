package observability

import (
	"testing"

	"github.com/smallbiznis/entrance/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaultsServiceIdentity(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:  "1.2.3",
		Environment: " production ",
		Telemetry: config.TelemetryConfig{
			LogFormat:     "JSON",
			OTLPProtocol:  "HTTP",
			SamplingRatio: 3,
		},
	})

	assert.Equal(t, "entrance", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestDebugFollowsLevelOrEnvironment(t *testing.T) {
	assert.True(t, LoadConfig(config.Config{Telemetry: config.TelemetryConfig{LogLevel: "DEBUG"}}).Debug())
	assert.True(t, LoadConfig(config.Config{Environment: "local"}).Debug())
	assert.False(t, LoadConfig(config.Config{Environment: "staging"}).Debug())
}
