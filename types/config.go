package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *EngineConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type EngineConfig struct {
	Name         string              `yaml:"name" json:"name" validate:"required"`
	Version      string              `yaml:"version" json:"version" validate:"required"`
	Logger       *LoggerConfig       `yaml:"logger" json:"logger"`
	Store        *StoreConfig        `yaml:"store" json:"store"`
	Cache        *CacheConfig        `yaml:"cache" json:"cache"`
	Queue        *QueueConfig        `yaml:"queue" json:"queue"`
	Sync         *SyncConfig         `yaml:"sync" json:"sync"`
	Connectivity *ConnectivityConfig `yaml:"connectivity" json:"connectivity"`
	Transport    *TransportConfig    `yaml:"transport" json:"transport"`
	Notify       *NotifyConfig       `yaml:"notify" json:"notify"`
	Cron         *CronConfig         `yaml:"cron" json:"cron"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Health       *HealthConfig       `yaml:"health" json:"health"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type StoreConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Path   string      `yaml:"path" json:"path"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled              bool          `yaml:"enabled" json:"enabled"`
	Type                 string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config               interface{}   `yaml:"config" json:"config"`
	DefaultTTL           time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	HotEntryLimit        int64         `yaml:"hot_entry_limit" json:"hot_entry_limit" validate:"min=0"`
	CompressionThreshold int64         `yaml:"compression_threshold" json:"compression_threshold" validate:"min=0"`
	SweepSchedule        string        `yaml:"sweep_schedule" json:"sweep_schedule"`
}

type QueueConfig struct {
	MaxEntries        int `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	DefaultPriority   int `yaml:"default_priority" json:"default_priority"`
	DefaultMaxRetries int `yaml:"default_max_retries" json:"default_max_retries" validate:"min=0"`
}

type SyncConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Interval    time.Duration `yaml:"interval" json:"interval" validate:"min=0"`
	SendTimeout time.Duration `yaml:"send_timeout" json:"send_timeout" validate:"min=0"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay" validate:"min=0"`
}

type ConnectivityConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type TransportConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type NotifyConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Webhook bool        `yaml:"webhook" json:"webhook"`
	Type    string      `yaml:"type" json:"type"`
	Config  interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled    bool                   `yaml:"enabled" json:"enabled"`
	Type       string                 `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}            `yaml:"config" json:"config"`
	Prefix     string                 `yaml:"prefix" json:"prefix"`
	Labels     map[string]string      `yaml:"labels" json:"labels"`
	Collectors MetricsCollectorConfig `yaml:"collectors" json:"collectors"`
}

type MetricsCollectorConfig struct {
	System  bool `yaml:"system" json:"system"`
	Runtime bool `yaml:"runtime" json:"runtime"`
	Cache   bool `yaml:"cache" json:"cache"`
	Queue   bool `yaml:"queue" json:"queue"`
	Sync    bool `yaml:"sync" json:"sync"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
