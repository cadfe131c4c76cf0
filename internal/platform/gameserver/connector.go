package gameserver

import (
	"context"
	"time"

	sshclient "github.com/imamik/gsclone/internal/platform/ssh"
)

// Credentials grant shell access to a guest.
type Credentials struct {
	User       string
	Password   string
	PrivateKey []byte
	Port       int
}

// Session is an open shell connection to one guest.
type Session interface {
	Runner
	Host() string
	Close() error
}

// Connector opens sessions to guests.
type Connector interface {
	Connect(ctx context.Context, host string, creds Credentials) (Session, error)
}

// SSHConnector opens SSH sessions. Zero fields fall back to the SSH client
// defaults.
type SSHConnector struct {
	DialTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// Connect dials host with bounded retry and backoff.
func (c *SSHConnector) Connect(ctx context.Context, host string, creds Credentials) (Session, error) {
	client, err := sshclient.NewClient(&sshclient.Config{
		Host:        host,
		Port:        creds.Port,
		User:        creds.User,
		Password:    creds.Password,
		PrivateKey:  creds.PrivateKey,
		DialTimeout: c.DialTimeout,
		MaxRetries:  c.MaxRetries,
		RetryDelay:  c.RetryDelay,
	})
	if err != nil {
		return nil, err
	}
	session, err := client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

var _ Connector = (*SSHConnector)(nil)
