package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-sync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() (*Loader, error) {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.EngineConfig, *map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	data = expandEnv(data)

	config := l.Defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	rawData := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &rawData); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, nil, types.WrapError(err, "config validation failed")
	}

	return config, &rawData, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// expandEnv substitutes ${VAR} and ${VAR:default} references before the yaml
// is parsed.
func expandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), func(key string) string {
		name, def, _ := strings.Cut(key, ":")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return def
	}))
}

func (l *Loader) Defaults() *types.EngineConfig {
	return &types.EngineConfig{
		Logger: &types.LoggerConfig{
			Level: "debug",
		},
		Store: &types.StoreConfig{
			Type: "sqlite",
			Path: "sai_sync.db",
		},
		Cache: &types.CacheConfig{
			Enabled:              true,
			Type:                 "memory",
			DefaultTTL:           time.Hour,
			HotEntryLimit:        100,
			CompressionThreshold: 4 * 1024,
			SweepSchedule:        "@every 7m",
		},
		Queue: &types.QueueConfig{
			MaxEntries:        10000,
			DefaultPriority:   1,
			DefaultMaxRetries: 3,
		},
		Sync: &types.SyncConfig{
			Enabled:     true,
			Interval:    5 * time.Minute,
			SendTimeout: 30 * time.Second,
			BaseDelay:   5 * time.Minute,
		},
		Connectivity: &types.ConnectivityConfig{
			Type: "probe",
		},
		Transport: &types.TransportConfig{
			Type: "http",
		},
		Notify: &types.NotifyConfig{
			Enabled: true,
			Type:    "local",
		},
		Cron: &types.CronConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Health: &types.HealthConfig{
			Enabled: true,
		},
	}
}
