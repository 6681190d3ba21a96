// Package transport owns the pooled HTTP clients shared by the boost client
// and the execution backend client. Clients are keyed by a fingerprint of the
// endpoint identity, created lazily and torn down only by Registry.Close.
package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by Client after Close.
var ErrClosed = errors.New("transport: registry closed")

// Endpoint identifies one upstream. Two endpoints with equal fingerprints
// share one *http.Client.
type Endpoint struct {
	BaseURL  string
	Model    string
	Timeout  time.Duration
	APIKey   string
	ProxyURL string
}

// Fingerprint returns a stable hash of base URL, model, timeout, credential
// and proxy. The credential never appears in clear text.
func (e Endpoint) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		strings.TrimRight(e.BaseURL, "/"),
		e.Model,
		strconv.FormatInt(int64(e.Timeout), 10),
		e.APIKey,
		e.ProxyURL,
	} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type pooled struct {
	client    *http.Client
	transport *http.Transport
}

// Registry hands out pooled clients. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*pooled
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*pooled)}
}

// Client returns the shared client for ep, creating it on first use.
func (r *Registry) Client(ep Endpoint) (*http.Client, error) {
	key := ep.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if p, ok := r.clients[key]; ok {
		return p.client, nil
	}

	t, err := newTransport(ep.ProxyURL)
	if err != nil {
		return nil, err
	}
	p := &pooled{
		client:    &http.Client{Transport: t, Timeout: ep.Timeout},
		transport: t,
	}
	r.clients[key] = p
	log.Debugf("transport: new pooled client for %s (model %s, pool %d)", ep.BaseURL, ep.Model, len(r.clients))
	return p.client, nil
}

// Len returns the number of distinct pooled clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close releases idle connections of every pooled client and refuses
// further lookups. It is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for key, p := range r.clients {
		p.transport.CloseIdleConnections()
		delete(r.clients, key)
	}
	r.closed = true
}
