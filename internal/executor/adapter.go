package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
)

// adapterCache keeps one connected Adapter per binding so repeated calls
// against the same binding don't pay connect/auth cost (and, for
// wallet-signing venues, private-key parsing cost) on every dispatch.
type adapterCache struct {
	mu       sync.RWMutex
	byBinding map[string]venue.Adapter
}

func newAdapterCache() *adapterCache {
	return &adapterCache{byBinding: make(map[string]venue.Adapter)}
}

func (c *adapterCache) get(bindingID string) (venue.Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.byBinding[bindingID]
	return a, ok
}

func (c *adapterCache) put(bindingID string, a venue.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byBinding[bindingID] = a
}

// invalidate drops a cached adapter, forcing the next adapterFor call to
// reconnect. No code path in this package calls it.
func (c *adapterCache) invalidate(bindingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byBinding, bindingID)
}

// adapterFor returns a connected adapter for binding, building and
// authenticating a fresh one on first use and reusing it afterward.
// Credentials are decrypted through the vault only for the duration of
// this call and never persisted in plaintext.
func (e *Executor) adapterFor(ctx context.Context, binding *domain.VenueBinding) (venue.Adapter, error) {
	if a, ok := e.adapterCache.get(binding.ID); ok {
		return a, nil
	}

	adapter, err := e.registry.Build(binding.Venue)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	creds, err := e.decryptCredentials(binding)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "credential decryption failed", map[string]any{"binding_id": binding.ID, "reason": err.Error()})
		}
		return nil, fmt.Errorf("executor: decrypt credentials for binding %s: %w", binding.ID, err)
	}

	if err := adapter.Connect(ctx, creds); err != nil {
		return nil, fmt.Errorf("executor: connect binding %s to venue %s: %w", binding.ID, binding.Venue, err)
	}

	e.adapterCache.put(binding.ID, adapter)
	if e.logger != nil {
		e.logger.Info(ctx, "venue adapter connected", map[string]any{"binding_id": binding.ID, "venue": string(binding.Venue)})
	}
	return adapter, nil
}

func (e *Executor) decryptCredentials(binding *domain.VenueBinding) (venue.Credentials, error) {
	creds := venue.Credentials{
		WalletAddress: binding.WalletAddress,
		Testnet:       binding.Testnet,
	}
	if len(binding.APIKeyEnc) > 0 {
		apiKey, err := e.vault.DecryptString(binding.APIKeyEnc)
		if err != nil {
			return venue.Credentials{}, fmt.Errorf("api key: %w", err)
		}
		creds.APIKey = apiKey
	}
	if len(binding.APISecretEnc) > 0 {
		apiSecret, err := e.vault.DecryptString(binding.APISecretEnc)
		if err != nil {
			return venue.Credentials{}, fmt.Errorf("api secret: %w", err)
		}
		creds.APISecret = apiSecret
	}
	if len(binding.PrivateKeyEnc) > 0 {
		privateKeyHex, err := e.vault.DecryptString(binding.PrivateKeyEnc)
		if err != nil {
			return venue.Credentials{}, fmt.Errorf("private key: %w", err)
		}
		creds.PrivateKeyHex = privateKeyHex
	}
	return creds, nil
}
