// Package velocity registers game servers as backends of a Velocity proxy.
//
// The proxy is configured through velocity.toml on its host. Edits are made
// line by line inside the [servers] table so the operator's comments and
// layout survive, and the result is parsed with go-toml before it is written.
package velocity
