// Package testing provides shared test utilities.
//
//   - TestContext: a context bounded to the test's lifetime
//   - SSHServer: an in-process SSH server that records executed commands
//     and answers them through a pluggable handler
//
// Usage:
//
//	srv := testing.NewSSHServer(t, "mc", "secret", func(cmd string, _ []byte) (string, uint32) {
//	    return "", 0
//	})
//	client, _ := ssh.NewClient(&ssh.Config{Host: srv.Host, Port: srv.Port, User: "mc", Password: "secret"})
package testing
