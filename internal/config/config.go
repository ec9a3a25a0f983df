// Package config loads the engine configuration from a YAML file, the
// environment and an optional .env file, and keeps the hot-reloadable part
// in a Runtime.
package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

const (
	EnvPrefix         = "OEE"
	EnvConfigFile     = "OEE_CONFIG"
	DefaultConfigName = "oee-engine"
)

// Config holds all configuration for the engine.
type Config struct {
	Monitor        MonitorConfig        `mapstructure:"monitor"`
	Detection      DetectionConfig      `mapstructure:"detection"`
	Classification ClassificationConfig `mapstructure:"classification"`
	Quality        AlertConfig          `mapstructure:"quality"`
	Availability   AlertConfig          `mapstructure:"availability"`
	Performance    AlertConfig          `mapstructure:"performance"`
	Concurrency    ConcurrencyConfig    `mapstructure:"concurrency"`
	Schedule       ScheduleConfig       `mapstructure:"schedule"`
	Store          StoreConfig          `mapstructure:"store"`
	Counter        CounterConfig        `mapstructure:"counter"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Notify         NotifyConfig         `mapstructure:"notify"`
	OPCUA          OPCUAConfig          `mapstructure:"opcua"`
	Health         HealthConfig         `mapstructure:"health"`
	Log            LogConfig            `mapstructure:"log"`
	Lines          []LineConfig         `mapstructure:"lines"`
	Devices        []DeviceConfig       `mapstructure:"devices"`
}

type MonitorConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MaxConcurrentChecks int           `mapstructure:"max_concurrent_checks"`
	// Window is the look-back of one detection pass. Zero derives it from
	// the detection thresholds and the interval.
	Window time.Duration `mapstructure:"window"`
	// MetricsInterval is how often the latest OEE per device is refreshed.
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	// MetricsPeriod is the trailing period the periodic OEE covers.
	MetricsPeriod time.Duration `mapstructure:"metrics_period"`
	// CheckTimeout bounds one device check. Zero uses Interval.
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

type DetectionConfig struct {
	MinimumStoppageMinutes float64       `mapstructure:"minimum_stoppage_minutes"`
	GracePeriod            time.Duration `mapstructure:"grace_period"`
	MissingDataPolicy      string        `mapstructure:"missing_data_policy"`
}

type ClassificationConfig struct {
	AlertMinutes float64 `mapstructure:"alert_minutes"`
}

type AlertConfig struct {
	AlertThreshold float64 `mapstructure:"alert_threshold"`
}

type ConcurrencyConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type ScheduleConfig struct {
	URL                   string        `mapstructure:"url"`
	Timeout               time.Duration `mapstructure:"timeout"`
	DefaultAvailability   float64       `mapstructure:"default_availability"`
	DefaultOperatingHours float64       `mapstructure:"default_operating_hours"`
	ShiftModel            string        `mapstructure:"shift_model"`
	Timezone              string        `mapstructure:"timezone"`
	DayStart              string        `mapstructure:"day_start"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type CounterConfig struct {
	// Source is memory, postgres or simulated.
	Source             string        `mapstructure:"source"`
	PostgresDSN        string        `mapstructure:"postgres_dsn"`
	SimulationInterval time.Duration `mapstructure:"simulation_interval"`
	SimulationSeed     int64         `mapstructure:"simulation_seed"`
}

type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	QueueSize  int           `mapstructure:"queue_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type OPCUAConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Name    string `mapstructure:"name"`
	PKIDir  string `mapstructure:"pki_dir"`
}

type HealthConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LineConfig places a line in the resource hierarchy. Parent may name
// another line or area.
type LineConfig struct {
	ID     string `mapstructure:"id"`
	Parent string `mapstructure:"parent"`
}

// DeviceConfig maps one device to its counter channels, target rate and
// optional threshold overrides. Zero overrides inherit the global value.
type DeviceConfig struct {
	ID                  string  `mapstructure:"id"`
	Line                string  `mapstructure:"line"`
	ProductionChannel   int     `mapstructure:"production_channel"`
	RejectChannel       *int    `mapstructure:"reject_channel"`
	TargetRatePerMinute float64 `mapstructure:"target_rate_per_minute"`
	UnitCost            float64 `mapstructure:"unit_cost"`

	MinimumStoppageMinutes     float64 `mapstructure:"minimum_stoppage_minutes"`
	QualityAlertThreshold      float64 `mapstructure:"quality_alert_threshold"`
	AvailabilityAlertThreshold float64 `mapstructure:"availability_alert_threshold"`
	PerformanceAlertThreshold  float64 `mapstructure:"performance_alert_threshold"`
	ClassificationAlertMinutes float64 `mapstructure:"classification_alert_minutes"`

	Simulation SimulationConfig `mapstructure:"simulation"`
}

// SimulationConfig shapes the simulated counter source of one device.
type SimulationConfig struct {
	ScrapRate        float64       `mapstructure:"scrap_rate"`
	StopProbability  float64       `mapstructure:"stop_probability"`
	MeanStopDuration time.Duration `mapstructure:"mean_stop_duration"`
	RateNoisePercent float64       `mapstructure:"rate_noise_percent"`
}

// Rejects returns the reject channel, defaulting to 1.
func (d DeviceConfig) Rejects() int {
	if d.RejectChannel == nil {
		return 1
	}
	return *d.RejectChannel
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.max_concurrent_checks", 8)
	v.SetDefault("monitor.window", time.Duration(0))
	v.SetDefault("monitor.metrics_interval", time.Minute)
	v.SetDefault("monitor.metrics_period", 8*time.Hour)
	v.SetDefault("monitor.check_timeout", time.Duration(0))

	v.SetDefault("detection.minimum_stoppage_minutes", 5.0)
	v.SetDefault("detection.grace_period", 2*time.Minute)
	v.SetDefault("detection.missing_data_policy", PolicyStopAfterGrace)

	v.SetDefault("classification.alert_minutes", 30.0)
	v.SetDefault("quality.alert_threshold", 5.0)
	v.SetDefault("availability.alert_threshold", 85.0)
	v.SetDefault("performance.alert_threshold", 85.0)
	v.SetDefault("concurrency.max_retries", 3)

	v.SetDefault("schedule.url", "")
	v.SetDefault("schedule.timeout", 5*time.Second)
	v.SetDefault("schedule.default_availability", 100.0)
	v.SetDefault("schedule.default_operating_hours", 8.0)
	v.SetDefault("schedule.shift_model", "")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.day_start", "06:00")

	v.SetDefault("store.path", "data/oee.db")

	v.SetDefault("counter.source", "simulated")
	v.SetDefault("counter.postgres_dsn", "")
	v.SetDefault("counter.simulation_interval", 5*time.Second)
	v.SetDefault("counter.simulation_seed", int64(1))

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 15*time.Minute)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("opcua.enabled", true)
	v.SetDefault("opcua.port", 4840)
	v.SetDefault("opcua.name", "OEE-Engine")
	v.SetDefault("opcua.pki_dir", "./pki")

	v.SetDefault("health.port", 8081)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Loader owns the viper instance so the file can be watched after the
// first load.
type Loader struct {
	v *viper.Viper
}

// NewLoader reads path, or $OEE_CONFIG, or ./oee-engine.yaml when both are
// empty. A missing file is only an error when it was named explicitly.
func NewLoader(path string) *Loader {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/oee-engine")
	}

	return &Loader{v: v}
}

// Load reads the file, if any, and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	errFactory := errors.New()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
		log.Debug().Msg("No config file found, using defaults and environment")
	} else {
		log.Info().Str("file", l.v.ConfigFileUsed()).Msg("Configuration loaded")
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.New().Wrap(errors.ErrReadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}
