package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

const serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`       // falls back to VAULT_TOKEN
	AuthMethod string `mapstructure:"auth_method"` // token, kubernetes or approle
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"` // e.g. killcore/production
	Namespace  string `mapstructure:"namespace"`
	Role       string `mapstructure:"role"` // kubernetes auth role
}

// VaultClient reads KV v2 secrets below a configured path.
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates an authenticated Vault client.
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, errors.New("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if err := authenticate(client, &cfg); err != nil {
		return nil, err
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}

	log.Info().
		Str("address", cfg.Address).
		Str("auth_method", cfg.AuthMethod).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

func authenticate(client *vault.Client, cfg *VaultConfig) error {
	switch cfg.AuthMethod {
	case "token", "":
		if cfg.Token == "" {
			cfg.Token = os.Getenv("VAULT_TOKEN")
		}
		if cfg.Token == "" {
			return errors.New("VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(cfg.Token)
		return nil

	case "kubernetes":
		jwt, err := os.ReadFile(serviceAccountTokenPath)
		if err != nil {
			return fmt.Errorf("kubernetes authentication failed: reading service account token: %w", err)
		}
		role := cfg.Role
		if role == "" {
			role = "killcore"
		}
		return login(client, "auth/kubernetes/login", map[string]interface{}{"jwt": string(jwt), "role": role})

	case "approle":
		roleID, secretID := os.Getenv("VAULT_ROLE_ID"), os.Getenv("VAULT_SECRET_ID")
		if roleID == "" || secretID == "" {
			return errors.New("AppRole authentication failed: VAULT_ROLE_ID and VAULT_SECRET_ID must be set")
		}
		return login(client, "auth/approle/login", map[string]interface{}{"role_id": roleID, "secret_id": secretID})

	default:
		return fmt.Errorf("unsupported Vault auth method: %s", cfg.AuthMethod)
	}
}

// login exchanges credentials at path for a client token.
func login(client *vault.Client, path string, data map[string]interface{}) error {
	secret, err := client.Logical().Write(path, data)
	if err != nil {
		return fmt.Errorf("vault login at %s: %w", path, err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("vault login at %s returned no token", path)
	}
	client.SetToken(secret.Auth.ClientToken)
	log.Info().Str("path", path).Msg("Authenticated to Vault")
	return nil
}

// GetSecret reads the secret at path, relative to the configured SecretPath.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests the payload under "data"
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// GetSecretString reads a single string value.
func (vc *VaultClient) GetSecretString(ctx context.Context, path string, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key '%s' not found or not a string at path: %s", key, path)
	}
	return value, nil
}

// vaultBinding maps one Vault key onto a config field.
type vaultBinding struct {
	path, key string
	target    *string
}

func vaultBindings(cfg *Config) []vaultBinding {
	return []vaultBinding{
		{path: "storage", key: "database_url", target: &cfg.Storage.DatabaseURL},
		{path: "storage", key: "encryption_key", target: &cfg.Storage.EncryptionKey},
		{path: "redis", key: "password", target: &cfg.Redis.Password},
	}
}

// LoadSecretsFromVault overlays storage and Redis credentials from Vault
// onto cfg. Unreadable paths are logged and skipped so configured values
// and environment variables keep working.
func LoadSecretsFromVault(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		log.Debug().Msg("Vault integration disabled - using configuration and environment for secrets")
		return nil
	}

	vc, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	read := map[string]map[string]interface{}{}
	loaded := 0
	for _, b := range vaultBindings(cfg) {
		data, seen := read[b.path]
		if !seen {
			data, err = vc.GetSecret(ctx, b.path)
			if err != nil {
				log.Warn().Err(err).Str("path", b.path).Msg("Failed to load secrets from Vault")
			}
			read[b.path] = data
		}
		if value, ok := data[b.key].(string); ok && value != "" {
			*b.target = value
			loaded++
		}
	}

	log.Info().Int("loaded", loaded).Msg("Secrets loaded from Vault")
	return nil
}
