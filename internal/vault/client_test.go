package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-trade-analyzer/internal/ai/llm"
)

var _ llm.KeySource = (*Client)(nil)

func TestDisabledClientKeepsKeysInMemory(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	ctx := context.Background()

	if c.IsEnabled() {
		t.Errorf("Expected disabled client")
	}
	assert.NoError(t, c.Health(ctx))

	_, err = c.ProviderKey(ctx, "claude")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	require.NoError(t, c.StoreProviderKey(ctx, ProviderKeyData{Provider: " Claude ", APIKey: "sk-test"}))
	key, err := c.ProviderKey(ctx, "claude")
	require.NoError(t, err)
	if key != "sk-test" {
		t.Errorf("Expected sk-test, got %v", key)
	}

	require.NoError(t, c.DeleteProviderKey(ctx, "claude"))
	_, err = c.ProviderKey(ctx, "claude")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.Error(t, c.StoreProviderKey(ctx, ProviderKeyData{Provider: "openai"}))
}

func TestEnabledClientReadsKVv2(t *testing.T) {
	var reads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/cta/providers/openai" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		atomic.AddInt32(&reads, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data": map[string]interface{}{
					"provider": "openai",
					"api_key":  "sk-vault",
					"model":    "gpt-4o",
				},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "root",
		SecretPath: "cta/providers",
		CacheTTL:   time.Minute,
	})
	require.NoError(t, err)
	ctx := context.Background()

	data, err := c.GetProviderKey(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-vault", data.APIKey)
	assert.Equal(t, "gpt-4o", data.Model)

	// second read is served from cache
	key, err := c.ProviderKey(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-vault", key)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reads))

	// expired entries are refetched
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = c.ProviderKey(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&reads))

	_, err = c.ProviderKey(ctx, "claude")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
