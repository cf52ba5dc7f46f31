package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/killcore/killcore/internal/evolution"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

var (
	validEnvironments = []string{"development", "staging", "production"}
	validLogLevels    = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
	validLogFormats   = []string{"json", "console"}
	validBackends     = []string{"file", "badger", "postgres", "memory"}
	validSources      = []string{"fixed", "file"}
	validAuthMethods  = []string{"token", "kubernetes", "approle"}
)

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateEvolution()...)
	errors = append(errors, c.validateScoring()...)
	errors = append(errors, c.validateKingPool()...)
	errors = append(errors, c.validateSymbols()...)
	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateMonitoring()...)
	errors = append(errors, c.validateVault()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func oneOf(field, value string, allowed []string) ValidationErrors {
	if slices.Contains(allowed, value) {
		return nil
	}
	return ValidationErrors{{
		Field:   field,
		Message: fmt.Sprintf("Invalid value '%s'. Must be one of: %v", value, allowed),
	}}
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		errors = append(errors, oneOf("app.environment", c.App.Environment, validEnvironments)...)
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	} else {
		errors = append(errors, oneOf("app.log_level", strings.ToLower(c.App.LogLevel), validLogLevels)...)
	}

	if c.App.LogFormat != "" {
		errors = append(errors, oneOf("app.log_format", c.App.LogFormat, validLogFormats)...)
	}

	return errors
}

func (c *Config) validateEvolution() ValidationErrors {
	var errors ValidationErrors
	e := c.Evolution

	if e.ModuleCount <= 0 {
		errors = append(errors, ValidationError{
			Field:   "evolution.module_count",
			Message: "Module count must be positive",
		})
	}

	if e.Tier1Share < 0 || e.Tier2Share < 0 || e.Tier1Share+e.Tier2Share > 1 {
		errors = append(errors, ValidationError{
			Field:   "evolution.tier1_share",
			Message: fmt.Sprintf("Tier shares must be non-negative and sum to at most 1 (got %.2f + %.2f)", e.Tier1Share, e.Tier2Share),
		})
	}

	if e.ResurrectionCap < 0 {
		errors = append(errors, ValidationError{
			Field:   "evolution.resurrection_cap",
			Message: "Resurrection cap cannot be negative",
		})
	}

	if e.EliteGenerationThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "evolution.elite_generation_threshold",
			Message: "Elite generation threshold cannot be negative",
		})
	}

	if e.VirtualCapital <= 0 {
		errors = append(errors, ValidationError{
			Field:   "evolution.virtual_capital",
			Message: "Virtual capital must be positive",
		})
	}

	if len(e.FallbackSymbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "evolution.fallback_symbols",
			Message: "At least one fallback symbol is required",
		})
	}

	if e.Parallelism < 0 {
		errors = append(errors, ValidationError{
			Field:   "evolution.parallelism",
			Message: "Parallelism cannot be negative",
		})
	}

	m := e.Mutation
	ranges := []struct {
		field     string
		low, high float64
	}{
		{"evolution.mutation.normal", m.NormalLow, m.NormalHigh},
		{"evolution.mutation.boost", m.BoostLow, m.BoostHigh},
		{"evolution.mutation.divine", m.DivineLow, m.DivineHigh},
	}
	for _, r := range ranges {
		if r.low <= 0 || r.high < r.low {
			errors = append(errors, ValidationError{
				Field:   r.field,
				Message: fmt.Sprintf("Mutation range must satisfy 0 < low <= high (got %.4f..%.4f)", r.low, r.high),
			})
		}
	}

	if m.Precision < 0 || m.Precision > 8 {
		errors = append(errors, ValidationError{
			Field:   "evolution.mutation.precision",
			Message: "Mutation precision must be between 0 and 8",
		})
	}

	return errors
}

func (c *Config) validateScoring() ValidationErrors {
	var errors ValidationErrors
	s := c.Scoring

	if s.ExplosiveDrawdown <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scoring.explosive_drawdown",
			Message: "Explosive drawdown limit must be positive",
		})
	}

	if s.RetryLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "scoring.retry_limit",
			Message: "Retry limit cannot be negative",
		})
	}

	if s.RetryPenalty < 0 {
		errors = append(errors, ValidationError{
			Field:   "scoring.retry_penalty",
			Message: "Retry penalty cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateKingPool() ValidationErrors {
	var errors ValidationErrors

	if _, err := evolution.PolicyForMode(c.KingPool.Mode, c.KingPool.Capacity); err != nil {
		errors = append(errors, ValidationError{
			Field:   "king_pool.mode",
			Message: fmt.Sprintf("Invalid king pool mode '%s'. Must be one of: [single top]", c.KingPool.Mode),
		})
	}

	if c.KingPool.Capacity < 0 {
		errors = append(errors, ValidationError{
			Field:   "king_pool.capacity",
			Message: "King pool capacity cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateSymbols() ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, oneOf("symbols.source", c.Symbols.Source, validSources)...)

	if c.Symbols.Source == "file" && c.Symbols.PoolFile == "" {
		errors = append(errors, ValidationError{
			Field:   "symbols.pool_file",
			Message: "Symbol pool file is required when symbols.source is 'file'",
		})
	}

	for i, sym := range c.Symbols.Fixed {
		if strings.TrimSpace(sym) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("symbols.fixed[%d]", i),
				Message: "Symbol cannot be empty",
			})
		}
	}

	return errors
}

func (c *Config) validateStorage() ValidationErrors {
	var errors ValidationErrors
	s := c.Storage

	errors = append(errors, oneOf("storage.backend", s.Backend, validBackends)...)

	switch s.Backend {
	case "file":
		if s.Dir == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.dir",
				Message: "Storage directory is required for the file backend",
			})
		}
	case "badger":
		if s.BadgerPath == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.badger_path",
				Message: "Badger path is required for the badger backend",
			})
		}
		if n := len(s.EncryptionKey); n != 0 && n != 16 && n != 24 && n != 32 {
			errors = append(errors, ValidationError{
				Field:   "storage.encryption_key",
				Message: fmt.Sprintf("Encryption key must be 16, 24 or 32 bytes (got %d)", n),
			})
		}
	case "postgres":
		if s.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.database_url",
				Message: "Database URL is required for the postgres backend (set KILLCORE_STORAGE_DATABASE_URL)",
			})
		}
		if s.PoolSize <= 0 {
			errors = append(errors, ValidationError{
				Field:   "storage.pool_size",
				Message: "Pool size must be positive",
			})
		}
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if !c.Redis.Enabled {
		return errors
	}

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required when redis is enabled",
		})
	}

	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid Redis port %d. Must be between 1 and 65535", c.Redis.Port),
		})
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		errors = append(errors, ValidationError{
			Field:   "redis.db",
			Message: fmt.Sprintf("Invalid Redis DB %d. Must be between 0 and 15", c.Redis.DB),
		})
	}

	if c.Redis.TTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.ttl",
			Message: "Redis TTL cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if !c.NATS.Enabled {
		return errors
	}

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required when nats is enabled",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with nats:// or tls://",
		})
	}

	if c.NATS.Prefix != "" && !strings.HasSuffix(c.NATS.Prefix, ".") {
		errors = append(errors, ValidationError{
			Field:   "nats.prefix",
			Message: "NATS subject prefix must end with '.'",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid API port %d. Must be between 1 and 65535", c.API.Port),
		})
	}

	if c.API.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "api.rate_limit",
			Message: "Rate limit must be positive",
		})
	}

	if c.API.RateBurst <= 0 {
		errors = append(errors, ValidationError{
			Field:   "api.rate_burst",
			Message: "Rate burst must be positive",
		})
	}

	return errors
}

func (c *Config) validateMonitoring() ValidationErrors {
	var errors ValidationErrors

	if !c.Monitoring.EnableMetrics {
		return errors
	}

	if c.Monitoring.PrometheusPort <= 0 || c.Monitoring.PrometheusPort > 65535 {
		errors = append(errors, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: fmt.Sprintf("Invalid Prometheus port %d. Must be between 1 and 65535", c.Monitoring.PrometheusPort),
		})
	} else if c.Monitoring.PrometheusPort == c.API.Port {
		errors = append(errors, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: "Prometheus port must differ from the API port",
		})
	}

	return errors
}

func (c *Config) validateVault() ValidationErrors {
	var errors ValidationErrors

	if !c.Vault.Enabled {
		return errors
	}

	if c.Vault.Address == "" {
		errors = append(errors, ValidationError{
			Field:   "vault.address",
			Message: "Vault address is required when vault is enabled",
		})
	}

	if c.Vault.AuthMethod != "" {
		errors = append(errors, oneOf("vault.auth_method", c.Vault.AuthMethod, validAuthMethods)...)
	}

	if c.Vault.SecretPath == "" {
		errors = append(errors, ValidationError{
			Field:   "vault.secret_path",
			Message: "Vault secret path is required when vault is enabled",
		})
	}

	return errors
}

// validateEnvironmentRequirements applies production-only rules
func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if !c.App.IsProduction() {
		return errors
	}

	if c.Storage.Backend == "memory" {
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Message: "The memory backend loses all state and cannot be used in production",
		})
	}

	if c.Storage.Backend == "postgres" && strings.Contains(c.Storage.DatabaseURL, "sslmode=disable") {
		errors = append(errors, ValidationError{
			Field:   "storage.database_url",
			Message: "SSL must be enabled for database in production",
		})
	}

	if c.App.LogLevel == "debug" || c.App.LogLevel == "trace" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Debug logging should not be enabled in production",
		})
	}

	if len(c.API.AllowedOrigins) == 0 || slices.Contains(c.API.AllowedOrigins, "*") {
		errors = append(errors, ValidationError{
			Field:   "api.allowed_origins",
			Message: "Explicit CORS origins are required in production",
		})
	}

	errors = append(errors, ValidateProductionSecrets(c)...)

	return errors
}
