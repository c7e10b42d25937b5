// Package config defines the process-wide configuration surface and the
// cobra/pflag/viper wiring that populates it, adapted from the
// teacher's flag/env binding pattern.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tambola-live/engine/internal/logging"
)

// Config holds every process-wide setting named in spec.md section 6:
// bind port, KV URL, DurableStore URL, allowed origins, JWT secret (an
// opaque passthrough for the external auth collaborator), payout API
// base URL, and per-category log toggles.
type Config struct {
	bind string
	port int

	redisURL string
	postgresDSN string

	allowedOrigins []string

	jwtSecret string

	payoutBaseURL string
	payoutTimeout time.Duration

	hotStateTimeout time.Duration
	storeTimeout    time.Duration

	verbose     bool
	devLogs     bool
	logEngine   bool
	logHotState bool
	logStore    bool
	logQueue    bool
	logBroadcast bool
	logIngress  bool
}

func (c *Config) Bind() string           { return c.bind }
func (c *Config) Port() int              { return c.port }
func (c *Config) RedisURL() string       { return c.redisURL }
func (c *Config) PostgresDSN() string    { return c.postgresDSN }
func (c *Config) AllowedOrigins() []string { return c.allowedOrigins }
func (c *Config) JWTSecret() string      { return c.jwtSecret }
func (c *Config) PayoutBaseURL() string  { return c.payoutBaseURL }
func (c *Config) PayoutTimeout() time.Duration { return c.payoutTimeout }
func (c *Config) HotStateTimeout() time.Duration { return c.hotStateTimeout }
func (c *Config) StoreTimeout() time.Duration    { return c.storeTimeout }
func (c *Config) DevLogs() bool          { return c.devLogs }

// Toggles builds the per-category logging.Toggles map from the bound
// flags.
func (c *Config) Toggles() logging.Toggles {
	return logging.Toggles{
		logging.CategoryEngine:      c.verbose || c.logEngine,
		logging.CategoryHotState:    c.verbose || c.logHotState,
		logging.CategoryStore:       c.verbose || c.logStore,
		logging.CategoryPrizeQueue:  c.verbose || c.logQueue,
		logging.CategoryBroadcaster: c.verbose || c.logBroadcast,
		logging.CategoryIngress:     c.verbose || c.logIngress,
	}
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.redisURL == "" {
		return errors.New("--redis-url is required")
	}
	if c.postgresDSN == "" {
		return errors.New("--postgres-dsn is required")
	}
	return nil
}

// NewCmd builds the root cobra command, binding flags to cfg via viper
// exactly the way the teacher's newCmd does: env-prefixed, dash-to-
// underscore normalized, AutomaticEnv.
func NewCmd(cfg *Config, releaseVersion string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TAMBOLA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tambola-server",
		Short:         "Realtime multiplayer 90-ball Tambola game engine.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TAMBOLA_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TAMBOLA_PORT)")
	fs.StringVar(&cfg.redisURL, "redis-url", "", "Redis connection URL for hot state (env: TAMBOLA_REDIS_URL)")
	fs.StringVar(&cfg.postgresDSN, "postgres-dsn", "", "Postgres DSN for durable storage (env: TAMBOLA_POSTGRES_DSN)")
	fs.StringSliceVar(&cfg.allowedOrigins, "allowed-origins", nil, "comma-separated list of allowed CORS origins (env: TAMBOLA_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "secret used by the external auth collaborator (env: TAMBOLA_JWT_SECRET)")
	fs.StringVar(&cfg.payoutBaseURL, "payout-base-url", "", "base URL of the external prize payout API (env: TAMBOLA_PAYOUT_BASE_URL)")
	fs.DurationVar(&cfg.payoutTimeout, "payout-timeout", 10*time.Second, "timeout for each payout API call (env: TAMBOLA_PAYOUT_TIMEOUT)")
	fs.DurationVar(&cfg.hotStateTimeout, "hotstate-timeout", 5*time.Second, "per-call timeout for hot-state operations; parsed but not applied by the server (env: TAMBOLA_HOTSTATE_TIMEOUT)")
	fs.DurationVar(&cfg.storeTimeout, "store-timeout", 5*time.Second, "per-call timeout for durable-store operations; parsed but not applied by the server (env: TAMBOLA_STORE_TIMEOUT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "enable all log categories (env: TAMBOLA_VERBOSE)")
	fs.BoolVar(&cfg.devLogs, "dev-logs", false, "use human-readable development log encoding instead of JSON (env: TAMBOLA_DEV_LOGS)")
	fs.BoolVar(&cfg.logEngine, "log-engine", false, "enable engine-category logs (env: TAMBOLA_LOG_ENGINE)")
	fs.BoolVar(&cfg.logHotState, "log-hotstate", false, "enable hotstate-category logs (env: TAMBOLA_LOG_HOTSTATE)")
	fs.BoolVar(&cfg.logStore, "log-store", false, "enable store-category logs (env: TAMBOLA_LOG_STORE)")
	fs.BoolVar(&cfg.logQueue, "log-prizequeue", false, "enable prizequeue-category logs (env: TAMBOLA_LOG_PRIZEQUEUE)")
	fs.BoolVar(&cfg.logBroadcast, "log-broadcaster", false, "enable broadcaster-category logs (env: TAMBOLA_LOG_BROADCASTER)")
	fs.BoolVar(&cfg.logIngress, "log-ingress", false, "enable ingress-category logs (env: TAMBOLA_LOG_INGRESS)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tambola-server v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
