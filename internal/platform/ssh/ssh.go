package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/imamik/gsclone/internal/util/retry"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultMaxRetries  = 4
	defaultRetryDelay  = 5 * time.Second
	defaultMaxDelay    = 30 * time.Second
)

// ErrNoCredentials is returned when neither a password nor a key is configured.
var ErrNoCredentials = errors.New("ssh: password or private key required")

// Config holds SSH client configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey []byte

	// DialTimeout is the timeout for establishing the TCP connection and handshake.
	// If zero, defaultDialTimeout is used.
	DialTimeout time.Duration

	// MaxRetries is the number of reconnect attempts after the first dial.
	// If zero, defaultMaxRetries is used. Negative disables retries.
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts.
	// If zero, defaultRetryDelay is used.
	RetryDelay time.Duration

	// HostKeyCallback handles host key verification.
	// If nil, ssh.InsecureIgnoreHostKey() is used: clones regenerate host keys
	// and are reached by a freshly reserved address.
	HostKeyCallback ssh.HostKeyCallback
}

// Client opens sessions to one remote host.
type Client struct {
	config *Config
	auth   []ssh.AuthMethod
}

// NewClient validates cfg and prepares auth methods.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if cfg.Password == "" && len(cfg.PrivateKey) == 0 {
		return nil, ErrNoCredentials
	}

	// Copy config to avoid mutating caller's struct
	configCopy := *cfg
	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}
	if configCopy.MaxRetries == 0 {
		configCopy.MaxRetries = defaultMaxRetries
	}
	if configCopy.MaxRetries < 0 {
		configCopy.MaxRetries = 0
	}
	if configCopy.RetryDelay == 0 {
		configCopy.RetryDelay = defaultRetryDelay
	}
	if configCopy.HostKeyCallback == nil {
		configCopy.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // guests are ephemeral clones
	}

	var auth []ssh.AuthMethod
	if len(configCopy.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(configCopy.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if configCopy.Password != "" {
		password := configCopy.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	return &Client{config: &configCopy, auth: auth}, nil
}

// Addr returns host:port of the remote end.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Connect establishes a connection with retry logic.
// Authentication failures are not retried.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	clientConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            c.auth,
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := c.Addr()
	var client *ssh.Client

	err := retry.WithExponentialBackoff(ctx, func() error {
		var dialErr error
		client, dialErr = c.dial(ctx, addr, clientConfig)
		if isAuthError(dialErr) {
			return retry.Fatal(dialErr)
		}
		return dialErr
	},
		retry.WithMaxRetries(c.config.MaxRetries),
		retry.WithInitialDelay(c.config.RetryDelay),
		retry.WithMaxDelay(defaultMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}

	return &Session{host: c.config.Host, client: client}, nil
}

// Execute connects, runs a single command and disconnects.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	session, err := c.Connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = session.Close() }()

	return session.Run(ctx, command)
}

func (c *Client) dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// Bound the handshake as well; NewClientConn has no context.
	_ = conn.SetDeadline(time.Now().Add(c.config.DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// Session is an open connection to a remote host.
type Session struct {
	host   string
	client *ssh.Client
}

// Host returns the remote host name or address.
func (s *Session) Host() string {
	return s.host
}

// Run executes a command and returns its combined output.
func (s *Session) Run(ctx context.Context, command string) (string, error) {
	return s.run(ctx, command, nil)
}

// RunWithInput executes a command with stdin taken from input.
func (s *Session) RunWithInput(ctx context.Context, command string, input []byte) (string, error) {
	return s.run(ctx, command, input)
}

func (s *Session) run(ctx context.Context, command string, input []byte) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session on %s: %w", s.host, err)
	}
	defer func() { _ = session.Close() }()

	if input != nil {
		session.Stdin = bytes.NewReader(input)
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return "", fmt.Errorf("command on %s interrupted: %w", s.host, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return string(r.out), fmt.Errorf("command failed on %s: %w\nCommand: %s\nOutput: %s",
				s.host, r.err, command, string(r.out))
		}
		return string(r.out), nil
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.client.Close()
}
