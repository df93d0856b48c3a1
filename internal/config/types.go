package config

import (
	"time"

	"schedhub/internal/apperr"
)

// Config is the root configuration document. Durations are Go duration
// strings ("5s", "1m30s"); unknown fields are rejected.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Log        LogConfig        `json:"log"`
	Storage    StorageConfig    `json:"storage"`
	Scheduling SchedulingConfig `json:"scheduling"`
	Janitor    JanitorConfig    `json:"janitor"`
}

type ServerConfig struct {
	Listen         string `json:"listen"`
	RateLimitRPS   int    `json:"rate_limit_rps"`
	RateLimitBurst int    `json:"rate_limit_burst"`
}

type LogConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type SchedulingConfig struct {
	MaxWindowDays          int `json:"max_window_days"`
	DefaultWindowDays      int `json:"default_window_days"`
	MaxBackfillPerSchedule int `json:"max_backfill_per_schedule"`
	MaxTotalInstances      int `json:"max_total_instances"`
}

type JanitorConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec"`     // cron spec or descriptor, e.g. "@hourly"
	Timezone string `json:"timezone"` // IANA TZ; empty means local
}

// Default returns a runnable baseline; Load starts from this and overlays the
// file on top.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:         ":8080",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        "./data/schedhub.db",
			BusyTimeout: "5s",
		},
		Scheduling: SchedulingConfig{
			MaxWindowDays:          31,
			DefaultWindowDays:      1,
			MaxBackfillPerSchedule: 100,
			MaxTotalInstances:      1000,
		},
		Janitor: JanitorConfig{
			Enabled: true,
			Spec:    "@hourly",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return apperr.E(apperr.KindBadRequest, "server.listen is required")
	}
	if c.Scheduling.DefaultWindowDays > c.Scheduling.MaxWindowDays {
		return apperr.E(apperr.KindBadRequest, "scheduling.default_window_days exceeds max_window_days")
	}
	if _, err := c.Storage.BusyTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

func (s StorageConfig) BusyTimeoutDuration() (time.Duration, error) {
	return ParseDurationField("storage.busy_timeout", s.BusyTimeout)
}
