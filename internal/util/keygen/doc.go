// Package keygen generates ed25519 key pairs for SSH.
//
// Private keys are produced in OpenSSH PEM format and public keys in
// authorized_keys format, ready to be baked into a guest template or used
// as a host key.
package keygen
