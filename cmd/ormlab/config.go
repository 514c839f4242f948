package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/inheritance"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/goliatone/go-orm-lab/pkg/di"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const envPrefix = "ormlab"

// Config is the CLI configuration after flags, environment and .env files
// have been merged.
type Config struct {
	Driver         string        `validate:"required,oneof=sqlite postgres"`
	DSN            string        `validate:"required_if=Driver postgres"`
	LogLevel       string        `validate:"required,oneof=debug info warn error"`
	LogSQL         bool
	CacheCapacity  int           `validate:"gt=0"`
	CacheTTL       time.Duration `validate:"gt=0"`
	ResetSchema    bool
	GatewayLatency bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// loadConfig reads the configuration from v.
func loadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Driver:         strings.ToLower(v.GetString("driver")),
		DSN:            v.GetString("dsn"),
		LogLevel:       strings.ToLower(v.GetString("log-level")),
		LogSQL:         v.GetBool("log-sql"),
		CacheCapacity:  v.GetInt("cache-capacity"),
		CacheTTL:       v.GetDuration("cache-ttl"),
		ResetSchema:    v.GetBool("reset-schema"),
		GatewayLatency: v.GetBool("gateway-latency"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the struct tags and reports every failing field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]any, len(fieldErrs))
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return goerrors.New("invalid configuration: "+strings.Join(msgs, ", "), goerrors.CategoryValidation).
		WithTextCode("INVALID_CONFIG").
		WithMetadata(fields)
}

// Level returns the zerolog level for LogLevel.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Container maps the CLI configuration onto the container configuration.
func (c Config) Container() di.Config {
	cfg := di.DefaultConfig()

	if c.Driver == database.DriverPostgres {
		cfg.Database = database.PostgresConfig()
	}
	if c.DSN != "" {
		cfg.Database.DSN = c.DSN
	}
	cfg.Database.LogQueries = c.LogSQL

	cfg.Cache.Capacity = c.CacheCapacity
	cfg.Cache.NumShards = min(cfg.Cache.NumShards, c.CacheCapacity)
	cfg.Cache.TTL = c.CacheTTL

	cfg.ResetSchema = c.ResetSchema
	if c.GatewayLatency {
		cfg.Payments = inheritance.DefaultProcessOptions()
	}
	return cfg
}
