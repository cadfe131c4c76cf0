package config

import "time"

// Config holds the application configuration.
type Config struct {
	Proxmox      ProxmoxConfig      `yaml:"proxmox"`
	Router       RouterConfig       `yaml:"router"`
	SSH          SSHConfig          `yaml:"ssh"`
	GameServer   GameServerConfig   `yaml:"game_server"`
	Velocity     VelocityConfig     `yaml:"velocity"`
	Store        StoreConfig        `yaml:"store"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Server       ServerConfig       `yaml:"server"`
}

// ProxmoxConfig describes how to reach the hypervisor API.
// Either TokenID/TokenSecret or Username/Password must be set.
type ProxmoxConfig struct {
	URL      string `yaml:"url"`
	Node     string `yaml:"node"`
	Storage  string `yaml:"storage,omitempty"`
	TokenID  string `yaml:"token_id,omitempty"` // e.g. root@pam!gsclone
	Username string `yaml:"username,omitempty"`

	// Secrets. Usually supplied through GSCLONE_PROXMOX_TOKEN_SECRET / GSCLONE_PROXMOX_PASSWORD.
	TokenSecret string `yaml:"token_secret,omitempty"`
	Password    string `yaml:"password,omitempty"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// RouterConfig describes the ASUS router that owns DHCP reservations.
// When Enabled is false no address is assigned to new guests.
type RouterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// RangeStart and RangeEnd bound the addresses handed out to clones (inclusive).
	RangeStart string `yaml:"range_start,omitempty"`
	RangeEnd   string `yaml:"range_end,omitempty"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// SSHConfig holds the credentials cloned guests inherit from their template.
// An empty User disables the world reset step.
type SSHConfig struct {
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	Port     int    `yaml:"port,omitempty"`
}

// GameServerConfig describes the server layout inside a guest.
type GameServerConfig struct {
	ServiceName    string   `yaml:"service_name,omitempty"`
	Dir            string   `yaml:"dir,omitempty"`
	WorldDirs      []string `yaml:"world_dirs,omitempty"`
	PropertiesFile string   `yaml:"properties_file,omitempty"`
	LevelName      string   `yaml:"level_name,omitempty"`
	Port           int      `yaml:"port,omitempty"`

	// StartAfterReset starts the service again once the world is reset. Default: true.
	StartAfterReset *bool `yaml:"start_after_reset,omitempty"`
}

// VelocityConfig describes the proxy host that fronts all game servers.
type VelocityConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host,omitempty"`
	Port          int    `yaml:"port,omitempty"`
	User          string `yaml:"user,omitempty"`
	Password      string `yaml:"password,omitempty"`
	KeyFile       string `yaml:"key_file,omitempty"`
	ConfigPath    string `yaml:"config_path,omitempty"`
	ReloadCommand string `yaml:"reload_command,omitempty"`
}

// StoreConfig selects where workflows and guests are persisted.
type StoreConfig struct {
	Backend string        `yaml:"backend,omitempty"` // "file" or "s3"
	Dir     string        `yaml:"dir,omitempty"`
	S3      S3StoreConfig `yaml:"s3,omitempty"`
}

// S3StoreConfig configures the object storage backend.
type S3StoreConfig struct {
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
}

// ProvisioningConfig tunes the workflow engine.
type ProvisioningConfig struct {
	MaxGuestsPerOwner int           `yaml:"max_guests_per_owner,omitempty"`
	TargetNode        string        `yaml:"target_node,omitempty"`
	ProgressTTL       time.Duration `yaml:"progress_ttl,omitempty"`
}

// ServerConfig configures the HTTP surface of `gsclone serve`.
type ServerConfig struct {
	Listen  string `yaml:"listen,omitempty"`
	Metrics bool   `yaml:"metrics,omitempty"`
}

// AddressAssignmentEnabled reports whether clones get a DHCP reservation.
func (c *Config) AddressAssignmentEnabled() bool {
	return c.Router.Enabled
}

// WorldResetEnabled reports whether guest credentials are configured.
func (c *Config) WorldResetEnabled() bool {
	return c.SSH.User != "" && (c.SSH.Password != "" || c.SSH.KeyFile != "")
}

// ShouldStartAfterReset returns the effective StartAfterReset value.
func (g GameServerConfig) ShouldStartAfterReset() bool {
	return g.StartAfterReset == nil || *g.StartAfterReset
}
