package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the dialer service.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Telephony TelephonyConfig `mapstructure:"telephony"`
	Dialer    DialerConfig    `mapstructure:"dialer"`
	Audio     AudioConfig     `mapstructure:"audio"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	CallEventTopic  string        `mapstructure:"call_event_topic"`
	LeadStatusTopic string        `mapstructure:"lead_status_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelephonyConfig describes the session identity and the collaborating
// telephony gateway.
type TelephonyConfig struct {
	GatewayURL     string        `mapstructure:"gateway_url"`
	Identity       string        `mapstructure:"identity"`
	Codecs         []string      `mapstructure:"codecs"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CallerID       string        `mapstructure:"caller_id"`
}

// DialerConfig tunes the power-dial loop.
type DialerConfig struct {
	// PacingSeconds is the default inter-call delay, clamped to
	// [MinPacingSeconds, MaxPacingSeconds] at start time.
	PacingSeconds    int           `mapstructure:"pacing_seconds"`
	MinPacingSeconds int           `mapstructure:"min_pacing_seconds"`
	MaxPacingSeconds int           `mapstructure:"max_pacing_seconds"`
	// SettleDelay runs between a call ending and the loop advancing.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// RetryDelay runs instead of the pacing delay when a placement fails.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// CallingHours restricts when the loop may dial. Empty means always.
	TimeZone     string              `mapstructure:"time_zone"`
	CallingHours []CallingHourWindow `mapstructure:"calling_hours"`
}

// CallingHourWindow is one allowed dialing window per day of week.
type CallingHourWindow struct {
	DayOfWeek int    `mapstructure:"day_of_week"`
	Start     string `mapstructure:"start"`
	End       string `mapstructure:"end"`
}

type AudioConfig struct {
	SampleRate     int           `mapstructure:"sample_rate"`
	LevelThreshold int           `mapstructure:"level_threshold"`
	TestWindow     time.Duration `mapstructure:"test_window"`
	ToneFrequency  float64       `mapstructure:"tone_frequency"`
	ToneDuration   time.Duration `mapstructure:"tone_duration"`
	DefaultVolume  int           `mapstructure:"default_volume"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dialer.MinPacingSeconds <= 0 {
		c.Dialer.MinPacingSeconds = 3
	}
	if c.Dialer.MaxPacingSeconds <= 0 {
		c.Dialer.MaxPacingSeconds = 60
	}
	if c.Dialer.PacingSeconds <= 0 {
		c.Dialer.PacingSeconds = 5
	}
	if c.Dialer.SettleDelay <= 0 {
		c.Dialer.SettleDelay = 1500 * time.Millisecond
	}
	if c.Dialer.RetryDelay <= 0 {
		c.Dialer.RetryDelay = 2 * time.Second
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.LevelThreshold <= 0 {
		c.Audio.LevelThreshold = 5
	}
	if c.Audio.TestWindow <= 0 {
		c.Audio.TestWindow = 5 * time.Second
	}
	if c.Audio.ToneFrequency <= 0 {
		c.Audio.ToneFrequency = 440
	}
	if c.Audio.ToneDuration <= 0 {
		c.Audio.ToneDuration = time.Second
	}
	if c.Audio.DefaultVolume <= 0 {
		c.Audio.DefaultVolume = 80
	}
	if c.Telephony.RequestTimeout <= 0 {
		c.Telephony.RequestTimeout = 10 * time.Second
	}
	if len(c.Telephony.Codecs) == 0 {
		c.Telephony.Codecs = []string{"opus", "pcmu"}
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
