// Package wizard provides the interactive `gsclone init` wizard.
//
// RunWizard asks a short series of charmbracelet/huh forms (hypervisor,
// router, guest credentials, proxy, storage) and returns a WizardResult.
// BuildConfig turns the answers into a config.Config and WriteConfig writes
// it as YAML with an explanatory header. Secrets are never asked for; the
// header lists the environment variables that carry them.
package wizard
