package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type DBConfig struct {
	DBDSN             string `envconfig:"DB_DSN" required:"true"`
	MaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS"`
	MinConns          int32  `envconfig:"DB_POOL_MIN_CONNS"`
	MaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	MaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`
}

type SQSConfig struct {
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

// EngineConfig drives reminder runs and admin alerts. It is loaded once per process and
// handed to each run; nothing in it is mutated afterwards.
type EngineConfig struct {
	// Email provider. A missing key is reported as a configuration error when a run starts,
	// not at boot, so the API can still serve alerts and month ranges.
	EmailAPIKey          string        `envconfig:"EMAIL_API_KEY"`
	EmailBaseURL         string        `envconfig:"EMAIL_BASE_URL" default:"https://api.sendgrid.com"`
	EmailTimeout         time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`
	EmailBreakerFailures uint32        `envconfig:"EMAIL_BREAKER_FAILURES" default:"5"`
	EmailBreakerCooldown time.Duration `envconfig:"EMAIL_BREAKER_COOLDOWN" default:"30s"`

	DefaultFrom     string `envconfig:"EMAIL_DEFAULT_FROM" default:"billing@example.com"`
	DefaultFromName string `envconfig:"EMAIL_DEFAULT_FROM_NAME" default:"Billing"`
	DefaultReplyTo  string `envconfig:"EMAIL_DEFAULT_REPLY_TO"`

	AppBaseURL       string `envconfig:"APP_BASE_URL" default:"http://localhost:3000"`
	BusinessTimezone string `envconfig:"BUSINESS_TIMEZONE" default:"UTC"`

	BatchSize        int           `envconfig:"REMINDER_BATCH_SIZE" default:"100"`
	SendInterval     time.Duration `envconfig:"REMINDER_SEND_INTERVAL" default:"100ms"`
	MaxPerFeePerDay  int           `envconfig:"REMINDER_MAX_PER_FEE_PER_DAY" default:"3"`
	FailureAlertRate float64       `envconfig:"REMINDER_FAILURE_ALERT_RATE" default:"0.10"`
	RulePolicy       string        `envconfig:"REMINDER_RULE_POLICY" default:"all"`
}

// Location resolves BusinessTimezone; it falls back to UTC on an unknown zone.
func (c EngineConfig) Location() (*time.Location, error) {
	if c.BusinessTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC, fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}

func (c EngineConfig) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("REMINDER_BATCH_SIZE must be positive")
	}
	if c.MaxPerFeePerDay <= 0 {
		return fmt.Errorf("REMINDER_MAX_PER_FEE_PER_DAY must be positive")
	}
	if c.FailureAlertRate < 0 || c.FailureAlertRate > 1 {
		return fmt.Errorf("REMINDER_FAILURE_ALERT_RATE must be within [0,1]")
	}
	switch c.RulePolicy {
	case "all", "first_match":
	default:
		return fmt.Errorf("REMINDER_RULE_POLICY must be all or first_match, got %q", c.RulePolicy)
	}
	_, err := c.Location()
	return err
}

type MonthRangeConfig struct {
	DefaultMonths int `envconfig:"MONTH_RANGE_DEFAULT_MONTHS" default:"12"`
	MaxMonths     int `envconfig:"MONTH_RANGE_MAX_MONTHS" default:"14"`
}

type APIConfig struct {
	DBConfig
	EngineConfig
	MonthRangeConfig

	Port           string `envconfig:"PORT" default:"8080"`
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	InternalAPIKey string `envconfig:"INTERNAL_API_KEY" required:"true"`
}

type WorkerConfig struct {
	DBConfig
	SQSConfig
	EngineConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	SQSWaitTime   int32 `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs    int32 `envconfig:"SQS_MAX_MSGS" default:"1"`
	SQSVizTimeout int32 `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"900"`
}

type SchedulerConfig struct {
	SQSConfig

	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	RunSchedule      string `envconfig:"REMINDER_RUN_SCHEDULE" default:"0 6 * * *"`
	BusinessTimezone string `envconfig:"BUSINESS_TIMEZONE" default:"UTC"`
}

func process(cfg any) error {
	return envconfig.Process("", cfg)
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := process(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.EngineConfig.validate(); err != nil {
		panic(err)
	}
	if cfg.DefaultMonths <= 0 || cfg.MaxMonths < cfg.DefaultMonths {
		panic(fmt.Errorf("MONTH_RANGE_DEFAULT_MONTHS must be positive and not exceed MONTH_RANGE_MAX_MONTHS"))
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := process(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.EngineConfig.validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadScheduler() SchedulerConfig {
	var cfg SchedulerConfig
	if err := process(&cfg); err != nil {
		panic(err)
	}
	return cfg
}
