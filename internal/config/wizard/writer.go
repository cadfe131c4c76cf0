package wizard

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/imamik/gsclone/internal/config"
)

// Function variable for dependency injection in tests.
var confirmOverwrite = defaultConfirmOverwrite

// WriteConfig writes the config to a YAML file with a descriptive header.
func WriteConfig(cfg *config.Config, outputPath string) error {
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(generateHeader(cfg, outputPath))
	sb.WriteString("\n")
	sb.Write(yamlBytes)

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// requiredSecrets lists the environment variables the config relies on.
func requiredSecrets(cfg *config.Config) []string {
	var envs []string
	if cfg.Proxmox.TokenID != "" {
		envs = append(envs, config.EnvProxmoxTokenSecret+" - secret of "+cfg.Proxmox.TokenID)
	} else {
		envs = append(envs, config.EnvProxmoxPassword+" - password of "+cfg.Proxmox.Username)
	}
	if cfg.Router.Enabled {
		envs = append(envs, config.EnvRouterPassword+" - router admin password")
	}
	if cfg.SSH.User != "" && cfg.SSH.KeyFile == "" {
		envs = append(envs, config.EnvSSHPassword+" - guest SSH password")
	}
	if cfg.Velocity.Enabled {
		envs = append(envs, config.EnvVelocityPassword+" - proxy host SSH password")
	}
	if cfg.Store.Backend == "s3" {
		envs = append(envs, config.EnvS3AccessKey, config.EnvS3SecretKey)
	}
	return envs
}

// generateHeader creates the YAML file header comment.
func generateHeader(cfg *config.Config, outputPath string) string {
	var env strings.Builder
	for _, e := range requiredSecrets(cfg) {
		env.WriteString("#   " + e + "\n")
	}
	return fmt.Sprintf(`# gsclone configuration
# Generated by: gsclone init
# Generated at: %s
#
# Required environment variables:
%s#
# Usage:
#   gsclone doctor -c %s
#   gsclone serve -c %s
`, time.Now().Format(time.RFC3339), env.String(), outputPath, outputPath)
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ConfirmOverwrite prompts the user to confirm overwriting an existing file.
func ConfirmOverwrite(path string) (bool, error) {
	return confirmOverwrite(path)
}

// defaultConfirmOverwrite is the default implementation that prompts via stdin.
func defaultConfirmOverwrite(path string) (bool, error) {
	fmt.Printf("\nFile already exists: %s\n", path)
	fmt.Print("Overwrite? (y/n): ")

	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false, err
	}

	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes", nil
}
