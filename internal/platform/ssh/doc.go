// Package ssh provides the SSH client used to reach guests and the proxy host.
//
// A Client holds the connection settings and credentials (password, private
// key or both). Connect dials with bounded retries and returns a Session that
// can run several commands over one connection, optionally feeding stdin.
package ssh
