package wizard

import (
	"context"
	"fmt"
)

// WizardResult holds all the answers from the interactive wizard.
type WizardResult struct {
	// Hypervisor
	ProxmoxURL string
	Node       string
	TokenID    string // empty means username/password auth
	Username   string
	Insecure   bool

	// DHCP reservations
	RouterEnabled bool
	RouterURL     string
	RouterUser    string
	RangeStart    string
	RangeEnd      string

	// Guest access for the world reset
	SSHUser     string
	SSHKeyFile  string
	KeepStopped bool // leave the game server stopped after the world reset

	// Proxy
	VelocityEnabled bool
	VelocityHost    string
	VelocityUser    string

	// Storage
	StoreBackend string
	StoreDir     string
	S3Bucket     string
	S3Endpoint   string
}

// RunWizard runs the interactive configuration wizard.
// The context is used for cancellation support (e.g., Ctrl+C).
func RunWizard(ctx context.Context) (*WizardResult, error) {
	result := &WizardResult{}

	if err := runHypervisorGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("hypervisor: %w", err)
	}

	if err := runRouterGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	if err := runGuestAccessGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("guest access: %w", err)
	}

	if err := runVelocityGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("velocity: %w", err)
	}

	if err := runStorageGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	return result, nil
}
