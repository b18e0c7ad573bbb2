package upstream

import (
	"net/http/httputil"
	"net/url"
	"sort"
	"sync"
)

// Target is one proxied upstream: a service name bound to a base URL, with an
// optional fallback URL used when the primary is denied or failing.
type Target struct {
	name     string
	url      *url.URL
	proxy    *httputil.ReverseProxy
	fallback *httputil.ReverseProxy
}

func New(name string, primary *url.URL, fallback *url.URL) *Target {
	t := &Target{
		name:  name,
		url:   primary,
		proxy: httputil.NewSingleHostReverseProxy(primary),
	}
	if fallback != nil {
		t.fallback = httputil.NewSingleHostReverseProxy(fallback)
	}
	return t
}

// Name returns the service name the breaker keys on.
func (t *Target) Name() string {
	return t.name
}

// URL returns the primary upstream URL.
func (t *Target) URL() *url.URL {
	return t.url
}

// ReverseProxy returns the proxy for the primary upstream.
func (t *Target) ReverseProxy() *httputil.ReverseProxy {
	return t.proxy
}

// FallbackProxy returns the proxy for the fallback upstream, or nil when no
// fallback is configured.
func (t *Target) FallbackProxy() *httputil.ReverseProxy {
	return t.fallback
}

// Registry maps service names to targets.
type Registry struct {
	mutex   sync.RWMutex
	targets map[string]*Target
}

func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]*Target)}
}

func (r *Registry) Add(t *Target) {
	r.mutex.Lock()
	r.targets[t.Name()] = t
	r.mutex.Unlock()
}

func (r *Registry) Lookup(service string) (*Target, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	t, ok := r.targets[service]
	return t, ok
}

// Names returns all registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
