package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
)

// ErrKeyNotFound is returned when no key is stored for a provider
var ErrKeyNotFound = errors.New("provider API key not found")

// Config holds Vault connection settings
type Config struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Address    string        `json:"address" yaml:"address" default:"http://127.0.0.1:8200"`
	Token      string        `json:"token" yaml:"token"`
	MountPath  string        `json:"mount_path" yaml:"mount_path" default:"secret"`
	SecretPath string        `json:"secret_path" yaml:"secret_path" default:"chart-trade-analyzer/providers"`
	TLSEnabled bool          `json:"tls_enabled" yaml:"tls_enabled"`
	CACert     string        `json:"ca_cert" yaml:"ca_cert"`
	CacheTTL   time.Duration `json:"cache_ttl" yaml:"cache_ttl" default:"10m"`
}

// ProviderKeyData represents the provider secret stored in Vault
type ProviderKeyData struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model,omitempty"`
}

type cachedKey struct {
	data    ProviderKeyData
	fetched time.Time
}

// Client wraps the HashiCorp Vault client. With Vault disabled it keeps
// keys in memory only, for development.
type Client struct {
	client *api.Client
	config Config
	mu     sync.RWMutex
	cache  map[string]cachedKey // provider -> key
	now    func() time.Time
}

// NewClient creates a new Vault client
func NewClient(cfg Config) (*Client, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.SecretPath == "" {
		cfg.SecretPath = "chart-trade-analyzer/providers"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	c := &Client{
		config: cfg,
		cache:  make(map[string]cachedKey),
		now:    time.Now,
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// ProviderKey returns the API key for a provider. It satisfies
// llm.KeySource.
func (c *Client) ProviderKey(ctx context.Context, provider string) (string, error) {
	data, err := c.GetProviderKey(ctx, provider)
	if err != nil {
		return "", err
	}
	return data.APIKey, nil
}

// StoreProviderKey stores a provider secret
func (c *Client) StoreProviderKey(ctx context.Context, data ProviderKeyData) error {
	data.Provider = normalize(data.Provider)
	if data.Provider == "" || data.APIKey == "" {
		return fmt.Errorf("provider and api key are required")
	}

	if c.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"provider": data.Provider,
				"api_key":  data.APIKey,
				"model":    data.Model,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(data.Provider), secretData); err != nil {
			return fmt.Errorf("failed to store provider key in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cache[data.Provider] = cachedKey{data: data, fetched: c.now()}
	c.mu.Unlock()
	return nil
}

// GetProviderKey reads a provider secret, serving from cache within CacheTTL
func (c *Client) GetProviderKey(ctx context.Context, provider string) (*ProviderKeyData, error) {
	provider = normalize(provider)

	c.mu.RLock()
	cached, ok := c.cache[provider]
	c.mu.RUnlock()
	if ok && (!c.config.Enabled || c.now().Sub(cached.fetched) < c.config.CacheTTL) {
		data := cached.data
		return &data, nil
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("%w: %s (vault disabled)", ErrKeyNotFound, provider)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, provider)
	}

	raw, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	data := ProviderKeyData{
		Provider: provider,
		APIKey:   getString(raw, "api_key"),
		Model:    getString(raw, "model"),
	}
	if data.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, provider)
	}

	c.mu.Lock()
	c.cache[provider] = cachedKey{data: data, fetched: c.now()}
	c.mu.Unlock()
	return &data, nil
}

// DeleteProviderKey deletes a provider secret and all its versions
func (c *Client) DeleteProviderKey(ctx context.Context, provider string) error {
	provider = normalize(provider)

	c.mu.Lock()
	delete(c.cache, provider)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(provider)); err != nil {
		return fmt.Errorf("failed to delete provider key from vault: %w", err)
	}
	return nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]cachedKey)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(provider string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

func (c *Client) metadataPath(provider string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
