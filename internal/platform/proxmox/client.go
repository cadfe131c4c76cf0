package proxmox

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ClusterReader lists cluster-wide state.
type ClusterReader interface {
	Version(ctx context.Context) (string, error)
	Nodes(ctx context.Context) ([]Node, error)
	Storages(ctx context.Context, node string) ([]Storage, error)
	ListGuests(ctx context.Context) ([]Guest, error)
	// LocateGuest finds the node and type of a guest id.
	LocateGuest(ctx context.Context, id int) (GuestRef, error)
	NextID(ctx context.Context) (int, error)
}

// GuestManager drives guest lifecycle operations.
type GuestManager interface {
	Clone(ctx context.Context, req CloneRequest) (*CloneResult, error)
	Migrate(ctx context.Context, guest GuestRef, target string) (TaskHandle, error)
	Start(ctx context.Context, guest GuestRef) (TaskHandle, error)
	GetGuest(ctx context.Context, guest GuestRef) (*Guest, error)
	GetNetworkInfo(ctx context.Context, guest GuestRef) (*NetworkInfo, error)
}

// TaskReader reads asynchronous task state.
type TaskReader interface {
	PollTask(ctx context.Context, task TaskHandle) (*TaskStatus, error)
}

// Client is the full hypervisor surface.
type Client interface {
	ClusterReader
	GuestManager
	TaskReader
}

// Config holds connection settings.
type Config struct {
	URL         string // e.g. https://pve.lan:8006
	TokenID     string // user@realm!name
	TokenSecret string
	Username    string
	Password    string
	Insecure    bool
}

// RealClient implements Client against a Proxmox VE endpoint.
type RealClient struct {
	baseURL    string
	cfg        Config
	httpClient *http.Client

	// logLimit caps the number of task log lines read per poll.
	logLimit int
	// retryDelay is the initial backoff for retried reads.
	retryDelay time.Duration

	mu     sync.Mutex
	ticket *ticket
}

type ticket struct {
	value string
	csrf  string
	until time.Time
}

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *RealClient) {
		c.httpClient = hc
	}
}

// WithLogLimit caps how many task log lines PollTask reads.
func WithLogLimit(n int) ClientOption {
	return func(c *RealClient) {
		c.logLimit = n
	}
}

// WithRetryDelay sets the initial backoff for retried reads.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RealClient) {
		c.retryDelay = d
	}
}

// NewRealClient creates a RealClient with optional configuration.
func NewRealClient(cfg Config, opts ...ClientOption) *RealClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed PVE certs
	}

	c := &RealClient{
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/api2/json",
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport, Timeout: 60 * time.Second},
		logLimit:   1000,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*RealClient)(nil)
