package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"transformer-telemetry/internal/generator"
	"transformer-telemetry/internal/logging"
	"transformer-telemetry/internal/telemetry"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig            `mapstructure:"app"`
	Logging    logging.Config       `mapstructure:"logging"`
	Telemetry  TelemetryConfig      `mapstructure:"telemetry"`
	Generator  generator.Params     `mapstructure:"generator"`
	Thresholds telemetry.Thresholds `mapstructure:"thresholds"`
	Alerting   AlertingConfig       `mapstructure:"alerting"`
	Database   DatabaseConfig       `mapstructure:"database"`
	HTTP       HTTPConfig           `mapstructure:"http"`
	Export     ExportConfig         `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TelemetryConfig shapes the pipeline.
type TelemetryConfig struct {
	Entities       []string          `mapstructure:"entities"`
	Kinds          map[string]string `mapstructure:"kinds"`
	Seed           int64             `mapstructure:"seed"`
	Tick           time.Duration     `mapstructure:"tick"`
	RouterCapacity int               `mapstructure:"router_capacity"`
	WindowSize     int               `mapstructure:"window_size"`
	SeriesCap      int               `mapstructure:"series_cap"`
}

// AlertingConfig defines anomaly alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Queue    int            `mapstructure:"queue"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the anomaly journal.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// HTTPConfig controls the presentation API.
type HTTPConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Ticks int `mapstructure:"ticks"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRAFOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "trafowatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("telemetry.entities", []string{"TX-A", "TX-B"})
	v.SetDefault("telemetry.seed", 123)
	v.SetDefault("telemetry.tick", "500ms")
	v.SetDefault("telemetry.router_capacity", 64)
	v.SetDefault("telemetry.window_size", 6)
	v.SetDefault("telemetry.series_cap", 256)

	p := generator.DefaultParams()
	v.SetDefault("generator.voltage_step_kv", p.VoltageStepKV)
	v.SetDefault("generator.current_step_amps", p.CurrentStepAmps)
	v.SetDefault("generator.temperature_step_c", p.TemperatureStepC)
	v.SetDefault("generator.load_step", p.LoadStep)
	v.SetDefault("generator.spike_probability", p.SpikeProbability)
	v.SetDefault("generator.voltage_spike_kv", p.VoltageSpikeKV)
	v.SetDefault("generator.current_spike_amps", p.CurrentSpikeAmps)
	v.SetDefault("generator.thermal_drift", p.ThermalDrift)
	v.SetDefault("generator.voltage_jitter_kv", p.VoltageJitterKV)
	v.SetDefault("generator.current_jitter_amps", p.CurrentJitterAmps)
	v.SetDefault("generator.temperature_jitter_c", p.TemperatureJitter)
	v.SetDefault("generator.load_jitter", p.LoadJitter)

	th := telemetry.DefaultThresholds()
	v.SetDefault("thresholds.voltage_low_kv", th.VoltageLowKV)
	v.SetDefault("thresholds.voltage_high_kv", th.VoltageHighKV)
	v.SetDefault("thresholds.current_high_amps", th.CurrentHighAmps)
	v.SetDefault("thresholds.temperature_high_c", th.TemperatureHighC)
	v.SetDefault("thresholds.load_low", th.LoadLow)
	v.SetDefault("thresholds.load_high", th.LoadHigh)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30s")
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.queue", 32)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.write_timeout", "5s")

	v.SetDefault("http.listen_addr", "")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("export.ticks", 240)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	t := c.Telemetry
	if len(t.Entities) == 0 {
		return fmt.Errorf("telemetry.entities must list at least one entity")
	}
	seen := make(map[string]struct{}, len(t.Entities))
	for _, id := range t.Entities {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("telemetry.entities contains an empty id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("telemetry.entities contains duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
	for id, kind := range t.Kinds {
		if !telemetry.ValidKind(telemetry.Kind(kind)) {
			return fmt.Errorf("telemetry.kinds.%s: unknown kind %q", id, kind)
		}
	}
	if t.Tick <= 0 {
		return fmt.Errorf("telemetry.tick must be greater than zero")
	}
	if t.RouterCapacity <= 0 {
		return fmt.Errorf("telemetry.router_capacity must be greater than zero")
	}
	if t.WindowSize <= 0 {
		return fmt.Errorf("telemetry.window_size must be greater than zero")
	}
	if t.SeriesCap <= 0 {
		return fmt.Errorf("telemetry.series_cap must be greater than zero")
	}

	if p := c.Generator.SpikeProbability; p < 0 || p > 1 {
		return fmt.Errorf("generator.spike_probability must be within [0,1]")
	}

	th := c.Thresholds
	if th.VoltageLowKV >= th.VoltageHighKV {
		return fmt.Errorf("thresholds.voltage_low_kv must be below thresholds.voltage_high_kv")
	}
	if th.LoadLow >= th.LoadHigh || th.LoadLow < 0 || th.LoadHigh > 1 {
		return fmt.Errorf("thresholds.load_low/load_high must satisfy 0 <= low < high <= 1")
	}

	for _, ch := range c.Alerting.Channels {
		switch ch {
		case "log", "telegram":
		default:
			return fmt.Errorf("alerting.channels: unknown channel %q", ch)
		}
	}
	if c.Alerting.Queue <= 0 {
		return fmt.Errorf("alerting.queue must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}

	if c.Export.Ticks <= 0 {
		return fmt.Errorf("export.ticks must be greater than zero")
	}
	return nil
}

// Entities resolves the configured entity list with kinds.
func (c *Config) Entities() []telemetry.Entity {
	// viper lower-cases map keys.
	kinds := make(map[string]string, len(c.Telemetry.Kinds))
	for id, k := range c.Telemetry.Kinds {
		kinds[strings.ToLower(id)] = k
	}

	out := make([]telemetry.Entity, 0, len(c.Telemetry.Entities))
	for _, id := range c.Telemetry.Entities {
		kind := telemetry.KindDistribution
		if k, ok := kinds[strings.ToLower(id)]; ok {
			kind = telemetry.Kind(k)
		}
		out = append(out, telemetry.Entity{ID: telemetry.EntityID(id), Kind: kind})
	}
	return out
}

// EntityIDs returns the configured identifiers.
func (c *Config) EntityIDs() []telemetry.EntityID {
	out := make([]telemetry.EntityID, 0, len(c.Telemetry.Entities))
	for _, id := range c.Telemetry.Entities {
		out = append(out, telemetry.EntityID(id))
	}
	return out
}

// ResolveTicks returns either the CLI override or config default.
func (c *Config) ResolveTicks(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.Ticks
}
