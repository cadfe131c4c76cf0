// Package provisioning drives a game-server clone from request to serving
// traffic.
//
// The Orchestrator coordinates four unreliable systems: the hypervisor
// (clone, migrate, start), the router (DHCP reservation), the guest itself
// over SSH (world reset) and the connection proxy (registration). Every
// step is persisted to a store.WorkflowStore before the next one starts,
// and live progress is published to a progress.Broadcaster.
//
// # Failure handling
//
// Errors before the clone starts leave no workflow record. A failed clone
// task marks the workflow failed. Once a guest exists, MAC lookup and
// reservation errors pause the workflow so it can be resumed; placement,
// start, world reset and proxy registration are best-effort and reported
// per step in the Outcome.
//
// # Steps
//
// The step table in steps.go maps each workflow.Step to its progress
// percentage, its failure policy and its resume handler. Steps without a
// resume handler require a new Provision.
package provisioning
