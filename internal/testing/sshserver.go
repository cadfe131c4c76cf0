package testing

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/imamik/gsclone/internal/util/keygen"
)

var errAuth = errors.New("permission denied")

// CommandHandler answers one exec request with output and an exit status.
type CommandHandler func(command string, stdin []byte) (output string, exitStatus uint32)

// Command is an exec request received by SSHServer.
type Command struct {
	Command string
	Stdin   []byte
}

// SSHServer is an in-process SSH server for tests.
type SSHServer struct {
	Host string
	Port int

	listener net.Listener
	config   *ssh.ServerConfig

	mu         sync.Mutex
	handler    CommandHandler
	commands   []Command
	authorized [][]byte
}

// NewSSHServer starts a server accepting user/password (and any key added
// with AuthorizeKey). The server is closed when the test ends.
func NewSSHServer(t *testing.T, user, password string, handler CommandHandler) *SSHServer {
	t.Helper()

	hostKey, err := keygen.GenerateEd25519KeyPair("test-host")
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	s := &SSHServer{handler: handler}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && password != "" && string(pass) == password {
				return nil, nil
			}
			return nil, errAuth
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, k := range s.authorized {
				if meta.User() == user && bytes.Equal(k, key.Marshal()) {
					return nil, nil
				}
			}
			return nil, errAuth
		},
	}
	s.config.AddHostKey(hostKey.Signer)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	s.Host = host
	s.Port, _ = strconv.Atoi(port)

	go s.serve()
	t.Cleanup(func() { _ = s.listener.Close() })
	return s
}

// AuthorizeKey allows public key authentication with key.
func (s *SSHServer) AuthorizeKey(key ssh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = append(s.authorized, key.Marshal())
}

// SetHandler replaces the command handler.
func (s *SSHServer) SetHandler(h CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Commands returns the exec requests received so far.
func (s *SSHServer) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// CommandLines returns only the command strings received so far.
func (s *SSHServer) CommandLines() []string {
	cmds := s.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Command
	}
	return out
}

func (s *SSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(nConn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		_ = nConn.Close()
		return
	}
	defer func() { _ = sconn.Close() }()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		// The client half-closes after sending stdin, so this returns.
		stdin, _ := io.ReadAll(ch)

		s.mu.Lock()
		s.commands = append(s.commands, Command{Command: payload.Command, Stdin: stdin})
		handler := s.handler
		s.mu.Unlock()

		var (
			out    string
			status uint32
		)
		if handler != nil {
			out, status = handler(payload.Command, stdin)
		}
		_, _ = io.WriteString(ch, out)
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		go ssh.DiscardRequests(reqs)
		return
	}
}
