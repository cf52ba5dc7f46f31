package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/killcore/killcore/internal/evolution"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Evolution  EvolutionConfig  `mapstructure:"evolution"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	KingPool   KingPoolConfig   `mapstructure:"king_pool"`
	Symbols    SymbolsConfig    `mapstructure:"symbols"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Vault      VaultConfig      `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// EvolutionConfig contains population generator settings
type EvolutionConfig struct {
	ModuleCount              int            `mapstructure:"module_count"`
	Tier1Share               float64        `mapstructure:"tier1_share"`
	Tier2Share               float64        `mapstructure:"tier2_share"`
	ResurrectionThreshold    float64        `mapstructure:"resurrection_threshold"`
	ResurrectionCap          int            `mapstructure:"resurrection_cap"`
	EliteScoreThreshold      float64        `mapstructure:"elite_score_threshold"`
	EliteGenerationThreshold int            `mapstructure:"elite_generation_threshold"`
	VirtualCapital           float64        `mapstructure:"virtual_capital"`
	FallbackSymbols          []string       `mapstructure:"fallback_symbols"`
	Seed                     int64          `mapstructure:"seed"` // 0 = time based
	Parallelism              int            `mapstructure:"parallelism"`
	Mutation                 MutationConfig `mapstructure:"mutation"`
}

// MutationConfig contains the multiplicative jitter ranges
type MutationConfig struct {
	NormalLow  float64 `mapstructure:"normal_low"`
	NormalHigh float64 `mapstructure:"normal_high"`
	BoostLow   float64 `mapstructure:"boost_low"`
	BoostHigh  float64 `mapstructure:"boost_high"`
	DivineLow  float64 `mapstructure:"divine_low"`
	DivineHigh float64 `mapstructure:"divine_high"`
	Precision  int32   `mapstructure:"precision"`
}

// ScoringConfig contains fitness weights and classification limits
type ScoringConfig struct {
	ReturnWeight      float64 `mapstructure:"return_weight"`
	SharpeWeight      float64 `mapstructure:"sharpe_weight"`
	WinRateWeight     float64 `mapstructure:"win_rate_weight"`
	DrawdownWeight    float64 `mapstructure:"drawdown_weight"`
	ExplosiveDrawdown float64 `mapstructure:"explosive_drawdown"`
	HeavyLossFloor    float64 `mapstructure:"heavy_loss_floor"`
	LowSharpe         float64 `mapstructure:"low_sharpe"`
	RetryLimit        int     `mapstructure:"retry_limit"`
	RetryPenalty      float64 `mapstructure:"retry_penalty"`
}

// KingPoolConfig selects the king pool policy
type KingPoolConfig struct {
	Mode     string `mapstructure:"mode"` // single or top
	Capacity int    `mapstructure:"capacity"`
}

// SymbolsConfig contains symbol provider settings
type SymbolsConfig struct {
	Source      string   `mapstructure:"source"` // fixed or file
	Fixed       []string `mapstructure:"fixed"`
	PoolFile    string   `mapstructure:"pool_file"`
	ExportPath  string   `mapstructure:"export_path"`
	HistoryPath string   `mapstructure:"history_path"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // file, badger, postgres or memory
	Dir           string `mapstructure:"dir"`
	BadgerPath    string `mapstructure:"badger_path"`
	EncryptionKey string `mapstructure:"encryption_key"`
	DatabaseURL   string `mapstructure:"database_url"`
	PoolSize      int    `mapstructure:"pool_size"`
	// KeepModuleHistory disables pruning of earlier rounds' module records.
	KeepModuleHistory bool `mapstructure:"keep_module_history"`
}

// RedisConfig contains Redis settings for the king snapshot cache
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
}

// APIConfig contains read-only API server settings
type APIConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	RateLimit      float64  `mapstructure:"rate_limit"` // requests per second per client
	RateBurst      int      `mapstructure:"rate_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// KILLCORE_STORAGE_DATABASE_URL overrides storage.database_url
	v.SetEnvPrefix("KILLCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	gen := evolution.DefaultGeneratorConfig()
	scoring := evolution.DefaultScoringPolicy()

	// App defaults
	v.SetDefault("app.name", "Killcore")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Evolution defaults
	v.SetDefault("evolution.module_count", gen.ModuleCount)
	v.SetDefault("evolution.tier1_share", gen.Tier1Share)
	v.SetDefault("evolution.tier2_share", gen.Tier2Share)
	v.SetDefault("evolution.resurrection_threshold", gen.ResurrectionThreshold)
	v.SetDefault("evolution.resurrection_cap", gen.ResurrectionCap)
	v.SetDefault("evolution.elite_score_threshold", gen.EliteScoreThreshold)
	v.SetDefault("evolution.elite_generation_threshold", gen.EliteGenerationThreshold)
	v.SetDefault("evolution.virtual_capital", gen.VirtualCapital)
	v.SetDefault("evolution.fallback_symbols", gen.FallbackSymbols)
	v.SetDefault("evolution.seed", 0)
	v.SetDefault("evolution.parallelism", 8)
	v.SetDefault("evolution.mutation.normal_low", gen.Mutation.NormalLow)
	v.SetDefault("evolution.mutation.normal_high", gen.Mutation.NormalHigh)
	v.SetDefault("evolution.mutation.boost_low", gen.Mutation.BoostLow)
	v.SetDefault("evolution.mutation.boost_high", gen.Mutation.BoostHigh)
	v.SetDefault("evolution.mutation.divine_low", gen.Mutation.DivineLow)
	v.SetDefault("evolution.mutation.divine_high", gen.Mutation.DivineHigh)
	v.SetDefault("evolution.mutation.precision", gen.Mutation.Precision)

	// Scoring defaults
	v.SetDefault("scoring.return_weight", scoring.ReturnWeight)
	v.SetDefault("scoring.sharpe_weight", scoring.SharpeWeight)
	v.SetDefault("scoring.win_rate_weight", scoring.WinRateWeight)
	v.SetDefault("scoring.drawdown_weight", scoring.DrawdownWeight)
	v.SetDefault("scoring.explosive_drawdown", scoring.ExplosiveDrawdown)
	v.SetDefault("scoring.heavy_loss_floor", scoring.HeavyLossFloor)
	v.SetDefault("scoring.low_sharpe", scoring.LowSharpe)
	v.SetDefault("scoring.retry_limit", scoring.RetryLimit)
	v.SetDefault("scoring.retry_penalty", scoring.RetryPenalty)

	// King pool defaults
	v.SetDefault("king_pool.mode", "single")
	v.SetDefault("king_pool.capacity", 100)

	// Symbol defaults
	v.SetDefault("symbols.source", "fixed")
	v.SetDefault("symbols.fixed", []string{"MATICUSDT", "OPUSDT"})
	v.SetDefault("symbols.pool_file", "data/symbol_pool.yaml")
	v.SetDefault("symbols.export_path", "data/selected_symbols.json")
	v.SetDefault("symbols.history_path", "data/symbol_history.json")

	// Storage defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.keep_module_history", false)
	v.SetDefault("storage.badger_path", "data/badger")
	v.SetDefault("storage.encryption_key", "")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "killcore.events.")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.rate_burst", 20)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.auth_method", "token")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "killcore/production")
}

// GeneratorConfig converts the evolution section into generator settings.
func (c *Config) GeneratorConfig() evolution.GeneratorConfig {
	e := c.Evolution
	return evolution.GeneratorConfig{
		ModuleCount:              e.ModuleCount,
		Tier1Share:               e.Tier1Share,
		Tier2Share:               e.Tier2Share,
		ResurrectionThreshold:    e.ResurrectionThreshold,
		ResurrectionCap:          e.ResurrectionCap,
		EliteScoreThreshold:      e.EliteScoreThreshold,
		EliteGenerationThreshold: e.EliteGenerationThreshold,
		VirtualCapital:           e.VirtualCapital,
		FallbackSymbols:          e.FallbackSymbols,
		Mutation: evolution.MutationPolicy{
			NormalLow:  e.Mutation.NormalLow,
			NormalHigh: e.Mutation.NormalHigh,
			BoostLow:   e.Mutation.BoostLow,
			BoostHigh:  e.Mutation.BoostHigh,
			DivineLow:  e.Mutation.DivineLow,
			DivineHigh: e.Mutation.DivineHigh,
			Precision:  e.Mutation.Precision,
		},
	}
}

// ScoringPolicy converts the scoring section into a scoring policy.
func (c *Config) ScoringPolicy() evolution.ScoringPolicy {
	s := c.Scoring
	return evolution.ScoringPolicy{
		ReturnWeight:      s.ReturnWeight,
		SharpeWeight:      s.SharpeWeight,
		WinRateWeight:     s.WinRateWeight,
		DrawdownWeight:    s.DrawdownWeight,
		ExplosiveDrawdown: s.ExplosiveDrawdown,
		HeavyLossFloor:    s.HeavyLossFloor,
		LowSharpe:         s.LowSharpe,
		RetryLimit:        s.RetryLimit,
		RetryPenalty:      s.RetryPenalty,
	}
}

// KingPoolPolicy resolves the configured king pool mode.
func (c *Config) KingPoolPolicy() (evolution.KingPoolPolicy, error) {
	return evolution.PolicyForMode(c.KingPool.Mode, c.KingPool.Capacity)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether the app runs in the production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
