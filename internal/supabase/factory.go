package supabase

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/beyondbetter/bb-core/internal/observability"
)

// ClientFactory builds and caches clients keyed by (schema, auth).
type ClientFactory struct {
	cfg           *ProjectConfig
	logger        *observability.Logger
	refreshMargin time.Duration
	httpClient    *http.Client

	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientFactory creates a factory for the given project.
func NewClientFactory(cfg *ProjectConfig, logger *observability.Logger, refreshMargin time.Duration) *ClientFactory {
	return &ClientFactory{
		cfg:           cfg,
		logger:        logger,
		refreshMargin: refreshMargin,
		clients:       make(map[string]*Client),
	}
}

// SetHTTPClient overrides the transport used by newly created clients.
// Existing cached clients are unaffected.
func (f *ClientFactory) SetHTTPClient(client *http.Client) {
	f.mu.Lock()
	f.httpClient = client
	f.mu.Unlock()
}

// GetOrCreate returns the cached client for (schema, useAuth), building it on
// first use.
func (f *ClientFactory) GetOrCreate(schema string, useAuth bool) *Client {
	if schema == "" {
		schema = "public"
	}
	key := fmt.Sprintf("%s|auth=%t", schema, useAuth)

	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[key]; ok {
		return client
	}
	client := NewClient(f.cfg, ClientOptions{
		Schema:        schema,
		UseAuth:       useAuth,
		RefreshMargin: f.refreshMargin,
		HTTPClient:    f.httpClient,
		Logger:        f.logger,
	})
	f.clients[key] = client
	return client
}

// Close releases all cached clients.
func (f *ClientFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, client := range f.clients {
		client.Close()
		delete(f.clients, key)
	}
}
