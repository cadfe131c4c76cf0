// Package api serves the provisioning operations over HTTP.
//
// Routes:
//
//	POST   /v1/guests                      provision (add ?async=true to return at once)
//	GET    /v1/guests?owner=ID             list managed guests
//	DELETE /v1/guests/{id}?owner=ID        decommission
//	GET    /v1/workflows/{id}              durable workflow status
//	POST   /v1/workflows/{id}/resume       resume a paused or failed workflow
//	GET    /v1/progress/{token}            live progress snapshot
//	GET    /healthz                        liveness
//
// Work started by a request is detached from the request context, so a
// client that disconnects does not abort a clone. It is cancelled when the
// server's base context ends.
package api
