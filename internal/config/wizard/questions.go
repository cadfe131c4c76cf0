package wizard

import (
	"context"
	"net/netip"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"
)

// tokenIDRegex matches Proxmox API token IDs such as root@pam!gsclone.
var tokenIDRegex = regexp.MustCompile(`^[^@!\s]+@[^@!\s]+![A-Za-z][A-Za-z0-9._-]*$`)

// runHypervisorGroup prompts for the Proxmox endpoint and auth mode.
func runHypervisorGroup(ctx context.Context, result *WizardResult) error {
	useToken := true

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Proxmox API URL").
				Placeholder("https://pve.lan:8006").
				Value(&result.ProxmoxURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Node").
				Description("Node that holds the source templates").
				Placeholder("pve").
				Value(&result.Node).
				Validate(validateRequired(errNodeRequired)),
			huh.NewConfirm().
				Title("Skip TLS verification?").
				Description("Proxmox ships a self-signed certificate by default").
				Value(&result.Insecure),
			huh.NewConfirm().
				Title("Authenticate with an API token?").
				Value(&useToken),
		).Title("Hypervisor"),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}

	if useToken {
		return huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Token ID").
					Description("The secret goes into GSCLONE_PROXMOX_TOKEN_SECRET").
					Placeholder("root@pam!gsclone").
					Value(&result.TokenID).
					Validate(validateTokenID),
			),
		).RunWithContext(ctx)
	}

	result.Username = "root@pam"
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Description("The password goes into GSCLONE_PROXMOX_PASSWORD").
				Value(&result.Username),
		),
	).RunWithContext(ctx)
}

// runRouterGroup prompts for DHCP reservation settings.
func runRouterGroup(ctx context.Context, result *WizardResult) error {
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Reserve a DHCP address for every clone?").
				Description("Requires an ASUS router with static DHCP support").
				Value(&result.RouterEnabled),
		).Title("Addresses"),
	).RunWithContext(ctx)
	if err != nil || !result.RouterEnabled {
		return err
	}

	result.RouterUser = "admin"
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Router URL").
				Placeholder("http://192.168.1.1").
				Value(&result.RouterURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Router user").
				Value(&result.RouterUser),
			huh.NewInput().
				Title("First address").
				Placeholder("192.168.1.100").
				Value(&result.RangeStart).
				Validate(validateIPv4),
			huh.NewInput().
				Title("Last address").
				Placeholder("192.168.1.149").
				Value(&result.RangeEnd).
				Validate(func(s string) error { return validateRange(result.RangeStart, s) }),
		),
	).RunWithContext(ctx)
}

// runGuestAccessGroup prompts for the credentials baked into the templates.
func runGuestAccessGroup(ctx context.Context, result *WizardResult) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Guest SSH user (Optional)").
				Description("Leave empty to skip the world reset after cloning").
				Value(&result.SSHUser),
			huh.NewInput().
				Title("Private key file (Optional)").
				Description("Password auth uses GSCLONE_SSH_PASSWORD instead").
				Placeholder("~/.ssh/id_ed25519").
				Value(&result.SSHKeyFile),
			huh.NewConfirm().
				Title("Leave the game server stopped after the world reset?").
				Value(&result.KeepStopped),
		).Title("Guest Access"),
	).RunWithContext(ctx)
}

// runVelocityGroup prompts for the proxy host.
func runVelocityGroup(ctx context.Context, result *WizardResult) error {
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Register clones with a Velocity proxy?").
				Value(&result.VelocityEnabled),
		).Title("Proxy"),
	).RunWithContext(ctx)
	if err != nil || !result.VelocityEnabled {
		return err
	}

	result.VelocityUser = "root"
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Proxy host").
				Value(&result.VelocityHost).
				Validate(validateRequired(errHostRequired)),
			huh.NewInput().
				Title("Proxy SSH user").
				Value(&result.VelocityUser),
		),
	).RunWithContext(ctx)
}

// runStorageGroup prompts for the workflow store backend.
func runStorageGroup(ctx context.Context, result *WizardResult) error {
	result.StoreBackend = "file"

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Workflow store").
				Options(
					huh.NewOption("Local directory", "file"),
					huh.NewOption("S3-compatible bucket", "s3"),
				).
				Value(&result.StoreBackend),
		).Title("Storage"),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}

	if result.StoreBackend == "s3" {
		return huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Bucket").Value(&result.S3Bucket),
				huh.NewInput().
					Title("Endpoint (Optional)").
					Description("Leave empty for AWS").
					Value(&result.S3Endpoint),
			),
		).RunWithContext(ctx)
	}

	result.StoreDir = "/var/lib/gsclone"
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Directory").Value(&result.StoreDir),
		),
	).RunWithContext(ctx)
}

func validateRequired(errEmpty error) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errEmpty
		}
		return nil
	}
}

// validateURL checks for an http(s) URL.
func validateURL(s string) error {
	if s == "" {
		return errURLRequired
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return errURLInvalid
	}
	return nil
}

func validateTokenID(s string) error {
	if !tokenIDRegex.MatchString(s) {
		return errTokenIDForm
	}
	return nil
}

func validateIPv4(s string) error {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !addr.Is4() {
		return errIPInvalid
	}
	return nil
}

// validateRange checks that end is a valid address not before start.
func validateRange(start, end string) error {
	if err := validateIPv4(end); err != nil {
		return err
	}
	from, err := netip.ParseAddr(strings.TrimSpace(start))
	if err != nil {
		return errIPInvalid
	}
	to := netip.MustParseAddr(strings.TrimSpace(end))
	if to.Less(from) {
		return errRangeOrder
	}
	return nil
}
