package observability

import (
	"strings"

	"github.com/smallbiznis/entrance/internal/config"
)

const defaultServiceName = "entrance"

// Config holds the observability settings shared by logs, traces and metrics.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	tel := cfg.Telemetry

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	version := strings.TrimSpace(tel.ServiceVersion)
	if version == "" {
		version = strings.TrimSpace(cfg.AppVersion)
	}
	ratio := tel.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              version,
		LogLevel:             normalizeLevel(tel.LogLevel),
		LogFormat:            strings.ToLower(strings.TrimSpace(tel.LogFormat)),
		OtelEnabled:          tel.OTLPEnabled,
		OtelExporterEndpoint: strings.TrimSpace(tel.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(tel.OTLPProtocol)),
		OtelSamplingRatio:    ratio,
	}
}

// Debug reports whether request logs should carry stacks.
func (c Config) Debug() bool {
	return c.LogLevel == "debug" || isDevEnv(c.Environment)
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return "info"
	}
	return level
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
