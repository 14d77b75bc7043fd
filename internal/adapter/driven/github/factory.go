package github

import (
	"net/url"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HostClientFactory = (*ClientFactory)(nil)

// ClientFactory builds per-user clients from vault tokens. Each client gets
// its own transport stack so ETag caches never cross users.
type ClientFactory struct {
	base *url.URL
}

// NewClientFactory validates baseURL once; empty means api.github.com.
func NewClientFactory(baseURL string) (*ClientFactory, error) {
	f := &ClientFactory{}
	if baseURL != "" {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		f.base = u
	}
	return f, nil
}

// ForToken returns a client authenticated with token.
func (f *ClientFactory) ForToken(token string) driven.HostClient {
	return newClient(token, f.base)
}
