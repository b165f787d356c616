package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/punchamoorthee/agentcash/internal/events"
	"github.com/punchamoorthee/agentcash/internal/fee"
)

// Config is read from AGENTCASH_* environment variables and, when present,
// config.<env>.yaml in the working directory or ./configs.
type Config struct {
	Env         string `mapstructure:"ENVIRONMENT" validate:"required,oneof=local development test production"`
	ServiceName string `mapstructure:"SERVICE_NAME" validate:"required"`
	Port        string `mapstructure:"SERVER_PORT" validate:"required,numeric"`

	DBSource   string `mapstructure:"DB_SOURCE" validate:"required"`
	MaxDbConns int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbConns int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=0"`

	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC" validate:"required"`

	CodeSealKey string `mapstructure:"CODE_SEAL_KEY" validate:"required,base64"`
	BcryptCost  int    `mapstructure:"BCRYPT_COST" validate:"min=4,max=31"`

	PlatformAccount string `mapstructure:"PLATFORM_ACCOUNT" validate:"required"`

	WithdrawalMin      int64         `mapstructure:"WITHDRAWAL_MIN" validate:"min=1"`
	WithdrawalMax      int64         `mapstructure:"WITHDRAWAL_MAX" validate:"omitempty,gtefield=WithdrawalMin"`
	WithdrawalTTL      time.Duration `mapstructure:"WITHDRAWAL_TTL" validate:"required"`
	FloatMin           int64         `mapstructure:"FLOAT_MIN" validate:"min=1"`
	FloatMax           int64         `mapstructure:"FLOAT_MAX" validate:"omitempty,gtefield=FloatMin"`
	FloatTTL           time.Duration `mapstructure:"FLOAT_TTL" validate:"required"`
	CancellationTTL    time.Duration `mapstructure:"CANCELLATION_TTL" validate:"required"`
	CancellationWindow time.Duration `mapstructure:"CANCELLATION_WINDOW" validate:"required"`

	FloatFloor        int64 `mapstructure:"FLOAT_FLOOR" validate:"min=0"`
	ActivationMinimum int64 `mapstructure:"ACTIVATION_MINIMUM" validate:"min=0"`

	LedgerTimeout time.Duration `mapstructure:"LEDGER_TIMEOUT" validate:"required"`
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL" validate:"required"`
	SweepBatch    int           `mapstructure:"SWEEP_BATCH" validate:"min=1"`

	RateLimitPerSec float64 `mapstructure:"RATE_LIMIT_PER_SEC" validate:"gt=0"`
	RateLimitBurst  int     `mapstructure:"RATE_LIMIT_BURST" validate:"min=1"`

	FeeTable []fee.Entry `mapstructure:"FEE_TABLE"`
}

var defaults = map[string]any{
	"ENVIRONMENT":         "development",
	"SERVICE_NAME":        "agentcash",
	"SERVER_PORT":         "8080",
	"MAX_DB_CONNECTIONS":  20,
	"MIN_DB_CONNECTIONS":  2,
	"KAFKA_TOPIC":         events.DefaultTopic,
	"BCRYPT_COST":         10,
	"PLATFORM_ACCOUNT":    "platform",
	"WITHDRAWAL_MIN":      10_000,
	"WITHDRAWAL_MAX":      5_000_000,
	"WITHDRAWAL_TTL":      "24h",
	"FLOAT_MIN":           10_000,
	"FLOAT_MAX":           50_000_000,
	"FLOAT_TTL":           "24h",
	"CANCELLATION_TTL":    "24h",
	"CANCELLATION_WINDOW": "30m",
	"FLOAT_FLOOR":         100_000,
	"ACTIVATION_MINIMUM":  250_000,
	"LEDGER_TIMEOUT":      "5s",
	"SWEEP_INTERVAL":      "30s",
	"SWEEP_BATCH":         200,
	"RATE_LIMIT_PER_SEC":  5,
	"RATE_LIMIT_BURST":    10,
}

func Load() (*Config, error) {
	return load(viper.New(), ".", "./configs")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetEnvPrefix("agentcash")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	// Optional yaml overlay, ignored when absent
	v.SetConfigName("config." + v.GetString("ENVIRONMENT"))
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := bindStruct(v, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.FeeTable) == 0 {
		cfg.FeeTable = fee.DefaultTable()
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, formatErrors(err)
	}
	if _, err := fee.NewPolicy(cfg.FeeTable); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindStruct registers every mapstructure tag as an env key so Unmarshal
// sees variables that have no default.
func bindStruct(v *viper.Viper, cfg any) error {
	t := reflect.TypeOf(cfg).Elem()
	for i := 0; i < t.NumField(); i++ {
		if err := v.BindEnv(t.Field(i).Tag.Get("mapstructure")); err != nil {
			return err
		}
	}
	return v.Unmarshal(cfg)
}

func formatErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// IsLocal reports whether the service runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == "development"
}
