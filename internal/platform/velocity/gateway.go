package velocity

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/imamik/gsclone/internal/logging"
	sshclient "github.com/imamik/gsclone/internal/platform/ssh"
	"github.com/imamik/gsclone/internal/util/shell"
)

// Gateway registers game servers with the proxy.
type Gateway interface {
	// Register points name at address:port and reloads the proxy.
	// Registering an identical entry is a no-op.
	Register(ctx context.Context, name string, address netip.Addr, port int) error
	// Deregister removes name. Unknown names are a no-op.
	Deregister(ctx context.Context, name string) error
}

// Config locates the proxy host and its configuration file.
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	PrivateKey    []byte
	ConfigPath    string
	ReloadCommand string
	DialTimeout   time.Duration
	MaxRetries    int
}

// SSHGateway edits velocity.toml over SSH.
type SSHGateway struct {
	cfg    Config
	reload string

	mu sync.Mutex
}

// NewSSHGateway validates cfg and prepares the reload command.
func NewSSHGateway(cfg Config) (*SSHGateway, error) {
	if cfg.Host == "" || cfg.ConfigPath == "" {
		return nil, fmt.Errorf("velocity host and config path are required")
	}
	reload, err := shell.Normalize(cfg.ReloadCommand)
	if err != nil {
		return nil, fmt.Errorf("velocity reload command: %w", err)
	}
	return &SSHGateway{cfg: cfg, reload: reload}, nil
}

// Register points name at address:port.
func (g *SSHGateway) Register(ctx context.Context, name string, address netip.Addr, port int) error {
	if !address.IsValid() {
		return fmt.Errorf("register %s: invalid address", name)
	}
	target := net.JoinHostPort(address.String(), strconv.Itoa(port))
	return g.edit(ctx, "register "+name, func(content string) (string, bool, error) {
		return SetServer(content, name, target)
	})
}

// Deregister removes name from the proxy.
func (g *SSHGateway) Deregister(ctx context.Context, name string) error {
	return g.edit(ctx, "deregister "+name, func(content string) (string, bool, error) {
		return RemoveServer(content, name)
	})
}

// Servers returns the proxy's server table as name to host:port.
func (g *SSHGateway) Servers(ctx context.Context) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	session, err := g.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer func() { _ = session.Close() }()

	content, err := session.Run(ctx, "cat -- "+shell.Quote(g.cfg.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("list servers: read %s: %w", g.cfg.ConfigPath, err)
	}
	return Servers(content)
}

func (g *SSHGateway) connect(ctx context.Context) (*sshclient.Session, error) {
	client, err := sshclient.NewClient(&sshclient.Config{
		Host:        g.cfg.Host,
		Port:        g.cfg.Port,
		User:        g.cfg.User,
		Password:    g.cfg.Password,
		PrivateKey:  g.cfg.PrivateKey,
		DialTimeout: g.cfg.DialTimeout,
		MaxRetries:  g.cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	return client.Connect(ctx)
}

func (g *SSHGateway) edit(ctx context.Context, action string, change func(string) (string, bool, error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	session, err := g.connect(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer func() { _ = session.Close() }()

	path := shell.Quote(g.cfg.ConfigPath)
	content, err := session.Run(ctx, "cat -- "+path)
	if err != nil {
		return fmt.Errorf("%s: read %s: %w", action, g.cfg.ConfigPath, err)
	}

	updated, changed, err := change(content)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	logger := logging.FromContext(ctx).WithValues("proxy", g.cfg.Host)
	if !changed {
		logger.V(1).Info("proxy config already up to date", "action", action)
		return nil
	}

	if _, err := session.RunWithInput(ctx, "cat > "+path, []byte(updated)); err != nil {
		return fmt.Errorf("%s: write %s: %w", action, g.cfg.ConfigPath, err)
	}
	if _, err := session.Run(ctx, g.reload); err != nil {
		return fmt.Errorf("%s: reload proxy: %w", action, err)
	}
	logger.Info("proxy config updated", "action", action)
	return nil
}

var _ Gateway = (*SSHGateway)(nil)
