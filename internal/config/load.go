package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFilename is the default configuration filename.
const DefaultConfigFilename = "gsclone.yaml"

// Environment variables that override secrets from the config file.
const (
	EnvProxmoxTokenSecret = "GSCLONE_PROXMOX_TOKEN_SECRET"
	EnvProxmoxPassword    = "GSCLONE_PROXMOX_PASSWORD"
	EnvRouterPassword     = "GSCLONE_ROUTER_PASSWORD"
	EnvSSHPassword        = "GSCLONE_SSH_PASSWORD"
	EnvVelocityPassword   = "GSCLONE_VELOCITY_PASSWORD"
	EnvS3AccessKey        = "GSCLONE_S3_ACCESS_KEY"
	EnvS3SecretKey        = "GSCLONE_S3_SECRET_KEY"
)

// Load loads and validates a configuration from a file.
func Load(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML, applies env secrets and defaults, then validates.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overlay := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	overlay(&c.Proxmox.TokenSecret, EnvProxmoxTokenSecret)
	overlay(&c.Proxmox.Password, EnvProxmoxPassword)
	overlay(&c.Router.Password, EnvRouterPassword)
	overlay(&c.SSH.Password, EnvSSHPassword)
	overlay(&c.Velocity.Password, EnvVelocityPassword)
	overlay(&c.Store.S3.AccessKey, EnvS3AccessKey)
	overlay(&c.Store.S3.SecretKey, EnvS3SecretKey)
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}

	gs := &c.GameServer
	if gs.ServiceName == "" {
		gs.ServiceName = "minecraft"
	}
	if gs.Dir == "" {
		gs.Dir = "/opt/minecraft"
	}
	if gs.LevelName == "" {
		gs.LevelName = "world"
	}
	if len(gs.WorldDirs) == 0 {
		gs.WorldDirs = []string{gs.LevelName, gs.LevelName + "_nether", gs.LevelName + "_the_end"}
	}
	if gs.PropertiesFile == "" {
		gs.PropertiesFile = "server.properties"
	}
	if gs.Port == 0 {
		gs.Port = 25565
	}

	v := &c.Velocity
	if v.Port == 0 {
		v.Port = 22
	}
	if v.ConfigPath == "" {
		v.ConfigPath = "/opt/velocity/velocity.toml"
	}
	if v.ReloadCommand == "" {
		v.ReloadCommand = "systemctl restart velocity"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Backend == "file" && c.Store.Dir == "" {
		c.Store.Dir = "/var/lib/gsclone"
	}
	if c.Store.S3.Prefix == "" {
		c.Store.S3.Prefix = "gsclone"
	}

	if c.Provisioning.MaxGuestsPerOwner == 0 {
		c.Provisioning.MaxGuestsPerOwner = 3
	}
	if c.Provisioning.ProgressTTL == 0 {
		c.Provisioning.ProgressTTL = 30 * time.Minute
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
}

// FindConfigFile searches for a config file in the current directory, then
// walks up the directory tree.
func FindConfigFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return findConfigFrom(cwd)
}

func findConfigFrom(dir string) (string, error) {
	for {
		path := filepath.Join(dir, DefaultConfigFilename)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("config file %s not found", DefaultConfigFilename)
}

// Save writes a configuration to a file. Secrets are written as given, so the
// file is created with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
