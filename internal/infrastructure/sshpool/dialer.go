package sshpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/doeshing/opsai/internal/domain"
)

const (
	defaultSSHPort   = 22
	keepaliveRequest = "keepalive@openssh.com"
	ptyTerm          = "xterm"
	ptyRows          = 40
	ptyCols          = 200
)

var errKeepaliveTimeout = errors.New("keepalive timed out")

// Session is a live authenticated connection able to run commands.
type Session interface {
	// Run executes command, copying output to stdout and stderr as it
	// arrives. The exit code is nil when the remote side reported none.
	Run(ctx context.Context, command string, stdout, stderr io.Writer) (*int, error)
	Alive() bool
	Close() error
}

// Dialer establishes new sessions.
type Dialer interface {
	Dial(ctx context.Context, creds domain.ServerCredentials, timeout time.Duration) (Session, error)
}

// SSHDialer dials real hosts with golang.org/x/crypto/ssh.
type SSHDialer struct {
	KeepaliveInterval time.Duration
	KeepaliveCountMax int
	RequestPty        bool
}

// NewSSHDialer builds a dialer with keepalives and pty allocation enabled.
func NewSSHDialer(keepaliveInterval time.Duration, keepaliveCountMax int) *SSHDialer {
	return &SSHDialer{
		KeepaliveInterval: keepaliveInterval,
		KeepaliveCountMax: keepaliveCountMax,
		RequestPty:        true,
	}
}

// Dial connects and authenticates within timeout.
func (d *SSHDialer) Dial(ctx context.Context, creds domain.ServerCredentials, timeout time.Duration) (Session, error) {
	config, err := clientConfig(creds, timeout)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(creds.Host, strconv.Itoa(portOrDefault(creds.Port)))
	netDialer := net.Dialer{Timeout: timeout}
	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	session := &clientSession{
		client:     ssh.NewClient(clientConn, chans, reqs),
		requestPty: d.RequestPty,
		done:       make(chan struct{}),
	}
	go session.watch()
	if d.KeepaliveInterval > 0 {
		go session.keepalive(d.KeepaliveInterval, d.KeepaliveCountMax)
	}
	return session, nil
}

func clientConfig(creds domain.ServerCredentials, timeout time.Duration) (*ssh.ClientConfig, error) {
	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

func authMethods(creds domain.ServerCredentials) ([]ssh.AuthMethod, error) {
	switch creds.AuthKind {
	case domain.AuthKey:
		if creds.PrivateKey == "" {
			return nil, errors.New("private key is empty")
		}
		var (
			signer ssh.Signer
			err    error
		)
		if creds.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(creds.PrivateKey), []byte(creds.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		password := creds.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	}
}

func portOrDefault(port int) int {
	if port <= 0 {
		return defaultSSHPort
	}
	return port
}

// clientSession multiplexes command channels over one ssh.Client.
type clientSession struct {
	client     *ssh.Client
	requestPty bool

	closeOnce sync.Once
	done      chan struct{}
}

func (s *clientSession) Run(ctx context.Context, command string, stdout, stderr io.Writer) (*int, error) {
	if !s.Alive() {
		return nil, errors.New("not connected")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if s.requestPty {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty(ptyTerm, ptyRows, ptyCols, modes); err != nil {
			return nil, fmt.Errorf("request pty: %w", err)
		}
	}
	sess.Stdout = stdout
	sess.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case err := <-done:
		return s.exitStatus(err)
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return nil, ctx.Err()
	}
}

func (s *clientSession) exitStatus(err error) (*int, error) {
	if err == nil {
		return domain.ExitCode(0), nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return domain.ExitCode(exitErr.ExitStatus()), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		// Either the command was killed by a signal or the transport died.
		if s.ping(time.Second) == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("connection lost: %w", err)
	}
	return nil, err
}

func (s *clientSession) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *clientSession) Close() error {
	err := s.client.Close()
	s.markClosed()
	return err
}

func (s *clientSession) markClosed() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *clientSession) watch() {
	_ = s.client.Wait()
	s.markClosed()
}

func (s *clientSession) keepalive(interval time.Duration, countMax int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.ping(interval); err != nil {
				missed++
				if missed >= countMax {
					_ = s.Close()
					return
				}
				continue
			}
			missed = 0
		}
	}
}

func (s *clientSession) ping(timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest(keepaliveRequest, true, nil)
		errc <- err
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return errKeepaliveTimeout
	}
}

var _ Dialer = (*SSHDialer)(nil)
