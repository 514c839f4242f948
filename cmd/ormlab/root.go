package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/goliatone/go-orm-lab/pkg/di"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v      *viper.Viper
	config Config
	logger zerolog.Logger
	stderr io.Writer
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stderr: stderr}

	root := &cobra.Command{
		Use:   "ormlab",
		Short: "Persistence patterns on bun, one runnable module at a time",
		Long: `ormlab runs demonstrations of entity mapping, first and second level
caching, query styles, inheritance strategies, relationships, locking and
best practices against SQLite or Postgres.

Every flag can also be set through the environment as ORMLAB_<FLAG>, with
dashes replaced by underscores (e.g. ORMLAB_LOG_LEVEL=debug). Values from
.env and .env.local are loaded first.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.String("driver", "sqlite", "Database driver (sqlite, postgres)")
	flags.String("dsn", "", "Database DSN; defaults to in-memory SQLite or the docker-compose Postgres")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-sql", false, "Log every SQL statement at debug level")
	flags.Int("cache-capacity", 10000, "Second-level cache capacity in entries")
	flags.Duration("cache-ttl", 10*time.Minute, "Second-level cache entry time to live")
	flags.Bool("reset-schema", false, "Drop and recreate module tables before running")
	flags.Bool("gateway-latency", false, "Simulate payment gateway latency in the inheritance module")

	root.AddCommand(
		newRunCmd(a),
		newModulesCmd(a),
		newPerfCmd(a),
		newStatsCmd(a),
	)
	return root
}

// setup loads .env files, binds flags and environment into viper, validates
// the result and configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(newEnvReplacer())
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}
	a.config = cfg

	zerolog.SetGlobalLevel(cfg.Level())
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: a.stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	return nil
}

// newEnvReplacer maps flag names to environment names: log-level is read
// from ORMLAB_LOG_LEVEL.
func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer("-", "_")
}

func (a *app) container(ctx context.Context) (*di.Container, error) {
	return di.NewContainer(ctx, a.config.Container(), di.WithLogger(a.logger))
}
