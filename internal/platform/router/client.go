package router

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// Client manages DHCP reservations.
type Client interface {
	// ListBindings returns the reservations currently on the router.
	ListBindings(ctx context.Context) ([]Binding, error)
	// Bind reserves address for mac. The live list is re-read first; if
	// another MAC holds address, ErrAddressConflict is returned and nothing
	// is written.
	Bind(ctx context.Context, mac string, address netip.Addr, label string) error
	// Unbind removes the reservation of mac. Unknown MACs are a no-op.
	// Removing the last reservation fails with ErrEmptyList.
	Unbind(ctx context.Context, mac string) error
	// Restore merges bindings into the live list in a single write.
	Restore(ctx context.Context, bindings []Binding) (*RestoreReport, error)
}

// Config holds connection settings.
type Config struct {
	URL      string // e.g. https://192.168.1.1:8443
	Username string
	Password string
	Insecure bool
}

// RealClient implements Client against the ASUS web API.
type RealClient struct {
	baseURL    string
	cfg        Config
	httpClient *http.Client
	// applyDelay is how long to wait after applying for dhcpd to restart.
	applyDelay time.Duration

	// writeMu serializes read-modify-write cycles on dhcp_staticlist.
	writeMu sync.Mutex

	mu    sync.Mutex
	token string
}

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *RealClient) {
		c.httpClient = hc
	}
}

// WithApplyDelay sets the pause after a write.
func WithApplyDelay(d time.Duration) ClientOption {
	return func(c *RealClient) {
		c.applyDelay = d
	}
}

// NewRealClient creates a RealClient with optional configuration.
func NewRealClient(cfg Config, opts ...ClientOption) *RealClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // routers ship self-signed certs
	}

	c := &RealClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		applyDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*RealClient)(nil)
