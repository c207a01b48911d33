package shell

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// transport abstracts the underlying command channel so the shell logic can
// be tested without a live SSH endpoint.
type transport interface {
	connect(ctx context.Context) error
	run(ctx context.Context, command string) (string, error)
	close() error
}

// sshTransport dials one SSH endpoint and runs each command on a fresh
// session over the persistent client connection.
type sshTransport struct {
	host     string
	port     int
	user     string
	password string
	keyPath  string
	client   *ssh.Client
}

func newSSHTransport(host string, port int, user, password, keyPath string) *sshTransport {
	return &sshTransport{host: host, port: port, user: user, password: password, keyPath: keyPath}
}

func (t *sshTransport) connect(ctx context.Context) error {
	var methods []ssh.AuthMethod
	if t.keyPath != "" {
		key, err := os.ReadFile(t.keyPath)
		if err != nil {
			return fmt.Errorf("%w: reading ssh key: %v", domain.ErrUnavailable, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return fmt.Errorf("%w: parsing ssh key: %v", domain.ErrAuth, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.password != "" {
		methods = append(methods, ssh.Password(t.password))
	}

	cfg := &ssh.ClientConfig{
		User:            t.user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // consumer devices rotate host keys on reset
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(t.host, fmt.Sprint(t.port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", domain.ErrUnavailable, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "permission denied") {
			return fmt.Errorf("%w: %s rejected credentials", domain.ErrAuth, addr)
		}
		return fmt.Errorf("%w: ssh handshake with %s: %v", domain.ErrUnavailable, addr, err)
	}

	t.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

func (t *sshTransport) run(ctx context.Context, command string) (string, error) {
	if t.client == nil {
		return "", domain.ErrUnavailable
	}
	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: opening session: %v", domain.ErrUnavailable, err)
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		// Mid-flight shell cancellation is not generally safe; tear the
		// session down and let the owner reconnect.
		session.Close()
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: %q", domain.ErrTimeout, command)
		}
		return "", fmt.Errorf("%w: %q", domain.ErrCancelled, command)
	case r := <-done:
		session.Close()
		if r.err != nil {
			return string(r.out), fmt.Errorf("command %q: %w", command, r.err)
		}
		return string(r.out), nil
	}
}

func (t *sshTransport) close() error {
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
