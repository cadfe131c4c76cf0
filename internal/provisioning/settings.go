package provisioning

import (
	"fmt"
	"os"
	"time"

	"go4.org/netipx"

	"github.com/imamik/gsclone/internal/config"
	"github.com/imamik/gsclone/internal/platform/gameserver"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/workflow"
)

// Settings tune the orchestrator.
type Settings struct {
	// Storage is the target storage for clones; empty keeps the source's.
	Storage string
	// TargetNode is the default placement node; empty keeps the clone where
	// it was created.
	TargetNode        string
	MaxGuestsPerOwner int

	// AddressRange bounds reserved addresses. A zero range disables
	// address assignment.
	AddressRange netipx.IPRange

	// Credentials are inherited by every clone from its template. Nil
	// disables the world reset unless credentials are attached later.
	Credentials *gameserver.Credentials
	// KeyFile is recorded on guests that inherit Credentials.
	KeyFile string

	Reset       gameserver.ResetOptions
	GamePort    int
	ProgressTTL time.Duration
}

// AddressAssignment reports whether clones get a DHCP reservation.
func (s Settings) AddressAssignment() bool {
	return s.AddressRange.IsValid()
}

// SettingsFromConfig derives Settings from a loaded configuration. The SSH
// key file is read once here.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	s := Settings{
		Storage:           cfg.Proxmox.Storage,
		TargetNode:        cfg.Provisioning.TargetNode,
		MaxGuestsPerOwner: cfg.Provisioning.MaxGuestsPerOwner,
		GamePort:          cfg.GameServer.Port,
		ProgressTTL:       cfg.Provisioning.ProgressTTL,
		Reset: gameserver.ResetOptions{
			ServiceName:    cfg.GameServer.ServiceName,
			Dir:            cfg.GameServer.Dir,
			WorldDirs:      cfg.GameServer.WorldDirs,
			PropertiesFile: cfg.GameServer.PropertiesFile,
			LevelName:      cfg.GameServer.LevelName,
			StartAfter:     cfg.GameServer.ShouldStartAfterReset(),
		},
	}
	if s.ProgressTTL <= 0 {
		s.ProgressTTL = progress.DefaultTTL
	}

	if cfg.AddressAssignmentEnabled() {
		rng, err := cfg.Router.AddressRange()
		if err != nil {
			return Settings{}, err
		}
		s.AddressRange = rng
	}

	if cfg.WorldResetEnabled() {
		creds := &gameserver.Credentials{
			User:     cfg.SSH.User,
			Password: cfg.SSH.Password,
			Port:     cfg.SSH.Port,
		}
		if cfg.SSH.KeyFile != "" {
			key, err := os.ReadFile(cfg.SSH.KeyFile)
			if err != nil {
				return Settings{}, fmt.Errorf("read ssh key: %w", err)
			}
			creds.PrivateKey = key
		}
		s.Credentials = creds
		s.KeyFile = cfg.SSH.KeyFile
	}
	return s, nil
}

// inheritedAccess is the credentials reference stored on new guests.
func (s Settings) inheritedAccess() *workflow.RemoteAccess {
	if s.Credentials == nil {
		return nil
	}
	return &workflow.RemoteAccess{
		User:      s.Credentials.User,
		Port:      s.Credentials.Port,
		KeyFile:   s.KeyFile,
		Inherited: true,
	}
}

// credentialsFor resolves a guest's stored access reference. Attached
// credentials must name a key file; passwords are never stored.
func (s Settings) credentialsFor(ra *workflow.RemoteAccess) (*gameserver.Credentials, error) {
	if ra == nil {
		return nil, nil
	}
	if ra.Inherited {
		return s.Credentials, nil
	}
	if ra.KeyFile == "" {
		return nil, fmt.Errorf("remote access for user %s has no key file", ra.User)
	}
	key, err := os.ReadFile(ra.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	port := ra.Port
	if port == 0 {
		port = 22
	}
	return &gameserver.Credentials{User: ra.User, PrivateKey: key, Port: port}, nil
}
