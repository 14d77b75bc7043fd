package application

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HostClientFactory = (*HostClientProvider)(nil)

// HostClientProvider caches one host client per access token so that each
// user's ETag cache and rate limit state survive across runs. Tokens are
// keyed by digest; the plaintext is never held as a map key.
type HostClientProvider struct {
	mu      sync.RWMutex
	factory driven.HostClientFactory
	clients map[string]driven.HostClient
}

// NewHostClientProvider creates a provider that builds clients with factory.
func NewHostClientProvider(factory driven.HostClientFactory) *HostClientProvider {
	return &HostClientProvider{
		factory: factory,
		clients: make(map[string]driven.HostClient),
	}
}

// ForToken returns the cached client for token, building it on first use.
func (p *HostClientProvider) ForToken(token string) driven.HostClient {
	key := tokenKey(token)

	p.mu.RLock()
	client, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return client
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client
	}
	client = p.factory.ForToken(token)
	p.clients[key] = client
	return client
}

// Forget drops the cached client for token. It is called when a user
// replaces or deletes a credential.
func (p *HostClientProvider) Forget(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, tokenKey(token))
}

// Len returns the number of cached clients.
func (p *HostClientProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
