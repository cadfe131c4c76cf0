// Package config defines the gsclone configuration model.
//
// A [Config] is read from a YAML file (gsclone.yaml by default, located with
// [FindConfigFile]), overlaid with secrets taken from the environment, filled
// with defaults and validated. Per-phase timeouts are not part of the file;
// they come from environment variables through [LoadTimeouts].
package config
