package wizard

import (
	"strings"

	"github.com/imamik/gsclone/internal/config"
)

// BuildConfig converts wizard answers into a config with defaults applied.
func BuildConfig(result *WizardResult) *config.Config {
	cfg := &config.Config{
		Proxmox: config.ProxmoxConfig{
			URL:                strings.TrimSpace(result.ProxmoxURL),
			Node:               strings.TrimSpace(result.Node),
			TokenID:            strings.TrimSpace(result.TokenID),
			InsecureSkipVerify: result.Insecure,
		},
		SSH: config.SSHConfig{
			User:    strings.TrimSpace(result.SSHUser),
			KeyFile: strings.TrimSpace(result.SSHKeyFile),
		},
		Store: config.StoreConfig{
			Backend: result.StoreBackend,
			Dir:     result.StoreDir,
		},
	}
	if cfg.Proxmox.TokenID == "" {
		cfg.Proxmox.Username = strings.TrimSpace(result.Username)
	}

	if result.RouterEnabled {
		cfg.Router = config.RouterConfig{
			Enabled:    true,
			URL:        strings.TrimSpace(result.RouterURL),
			Username:   strings.TrimSpace(result.RouterUser),
			RangeStart: strings.TrimSpace(result.RangeStart),
			RangeEnd:   strings.TrimSpace(result.RangeEnd),
		}
	}

	if result.KeepStopped {
		start := false
		cfg.GameServer.StartAfterReset = &start
	}

	if result.VelocityEnabled {
		cfg.Velocity = config.VelocityConfig{
			Enabled: true,
			Host:    strings.TrimSpace(result.VelocityHost),
			User:    strings.TrimSpace(result.VelocityUser),
		}
	}

	if result.StoreBackend == "s3" {
		cfg.Store.S3 = config.S3StoreConfig{
			Bucket:   strings.TrimSpace(result.S3Bucket),
			Endpoint: strings.TrimSpace(result.S3Endpoint),
		}
	}

	cfg.ApplyDefaults()
	return cfg
}
