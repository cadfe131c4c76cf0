// Package workflow defines the provisioning record of one cloned guest and
// the managed guest it produces.
//
// Workflow methods are the only way to change status, progress and step
// flags; they reject transitions the state machine does not allow with
// ErrInvalidTransition.
package workflow
