// Package proxmox is a small client for the Proxmox VE REST API.
//
// It covers the calls needed to clone game-server guests and drive them to a
// running state:
//
//   - client.go: RealClient construction and options
//   - request.go: request building, authentication and response decoding
//   - cluster.go: nodes, storage, guest lookup and next free id
//   - guests.go: clone, migrate, start and guest state
//   - tasks.go: asynchronous task (UPID) status and logs
//   - network.go: MAC extraction from a guest's netN config
//   - errors.go: error classification for retry logic
//
// Authentication uses an API token when TokenID is set, otherwise a ticket is
// obtained with username and password and refreshed once on 401.
//
// All write operations return a TaskHandle; callers poll it with PollTask.
package proxmox
