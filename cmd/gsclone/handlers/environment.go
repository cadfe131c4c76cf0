// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Handlers are framework-agnostic and can be tested
// independently of the CLI framework.
package handlers

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/imamik/gsclone/internal/config"
	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/platform/gameserver"
	"github.com/imamik/gsclone/internal/platform/proxmox"
	"github.com/imamik/gsclone/internal/platform/router"
	s3client "github.com/imamik/gsclone/internal/platform/s3"
	"github.com/imamik/gsclone/internal/platform/velocity"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/provisioning"
	"github.com/imamik/gsclone/internal/store"
	filestore "github.com/imamik/gsclone/internal/store/file"
	s3store "github.com/imamik/gsclone/internal/store/s3"
)

// ProxyGateway is the proxy surface handlers use.
type ProxyGateway interface {
	velocity.Gateway
	Servers(ctx context.Context) (map[string]string, error)
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadConfigFile loads config from file.
	loadConfigFile = config.Load

	// findConfigFile locates gsclone.yaml when no path is given.
	findConfigFile = config.FindConfigFile

	// newCompute creates the hypervisor client.
	newCompute = func(cfg config.ProxmoxConfig) proxmox.Client {
		return proxmox.NewRealClient(proxmox.Config{
			URL:         cfg.URL,
			TokenID:     cfg.TokenID,
			TokenSecret: cfg.TokenSecret,
			Username:    cfg.Username,
			Password:    cfg.Password,
			Insecure:    cfg.InsecureSkipVerify,
		})
	}

	// newRouter creates the DHCP reservation client.
	newRouter = func(cfg config.RouterConfig) router.Client {
		return router.NewRealClient(router.Config{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			Insecure: cfg.InsecureSkipVerify,
		})
	}

	// newProxy creates the proxy gateway.
	newProxy = func(cfg config.VelocityConfig) (ProxyGateway, error) {
		var key []byte
		if cfg.KeyFile != "" {
			data, err := os.ReadFile(cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("read velocity key: %w", err)
			}
			key = data
		}
		return velocity.NewSSHGateway(velocity.Config{
			Host:          cfg.Host,
			Port:          cfg.Port,
			User:          cfg.User,
			Password:      cfg.Password,
			PrivateKey:    key,
			ConfigPath:    cfg.ConfigPath,
			ReloadCommand: cfg.ReloadCommand,
		})
	}

	// openStore opens the configured workflow store.
	openStore = openConfiguredStore

	// isTerminal reports whether stdout is an interactive terminal.
	isTerminal = func() bool {
		fd := os.Stdout.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}

	// stdout receives command output.
	stdout io.Writer = os.Stdout
)

// environment holds everything a command needs to talk to the lab.
type environment struct {
	cfg      *config.Config
	compute  proxmox.Client
	router   router.Client // nil when address assignment is disabled
	proxy    ProxyGateway  // nil when the proxy is disabled
	store    store.Store
	progress *progress.Memory
	orch     *provisioning.Orchestrator
}

// newEnvironment loads the configuration and wires the orchestrator.
func newEnvironment(ctx context.Context, configPath string, opts ...provisioning.Option) (*environment, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	settings, err := provisioning.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	timeouts := config.LoadTimeouts()
	env := &environment{
		cfg:      cfg,
		compute:  newCompute(cfg.Proxmox),
		store:    st,
		progress: progress.NewMemory(),
	}

	all := []provisioning.Option{
		provisioning.WithTimeouts(timeouts),
		provisioning.WithProgress(env.progress),
		provisioning.WithConnector(resetConnector(timeouts)),
	}
	if cfg.AddressAssignmentEnabled() {
		env.router = newRouter(cfg.Router)
		all = append(all, provisioning.WithAddressGateway(env.router))
	}
	if cfg.Velocity.Enabled {
		proxy, err := newProxy(cfg.Velocity)
		if err != nil {
			return nil, err
		}
		env.proxy = proxy
		all = append(all, provisioning.WithProxyGateway(proxy))
	}
	all = append(all, opts...)

	env.orch = provisioning.NewOrchestrator(env.compute, st, settings, all...)
	logging.FromContext(ctx).V(1).Info("environment ready",
		"proxmox", cfg.Proxmox.URL, "store", cfg.Store.Backend,
		"addresses", cfg.AddressAssignmentEnabled(), "proxy", cfg.Velocity.Enabled)
	return env, nil
}

// resetConnector builds the world reset connector. The SSH client reads a
// zero retry count as "use the default", so a single attempt maps to -1.
func resetConnector(t *config.Timeouts) *gameserver.SSHConnector {
	retries := t.WorldResetAttempts - 1
	if retries <= 0 {
		retries = -1
	}
	return &gameserver.SSHConnector{
		MaxRetries: retries,
		RetryDelay: t.WorldResetDelay,
	}
}

// Close releases background resources.
func (e *environment) Close() {
	e.progress.Close()
}

// loadConfig loads the configuration from path, or finds gsclone.yaml when
// path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		found, err := findConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

func openConfiguredStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Backend != "s3" {
		return filestore.New(cfg.Dir)
	}
	client, err := s3client.NewClient(ctx, s3client.Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		PathStyle: cfg.S3.Endpoint != "",
	}, cfg.S3.Bucket)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3store.New(client, cfg.S3.Prefix), nil
}
