package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fleetpatch/fleetpatch/pkg/types"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultDialTimeout bounds the TCP connect and SSH handshake.
	DefaultDialTimeout = 10 * time.Second
	// elevated commands must never hang on a sudo password prompt
	sudoPrefix = "sudo -n "
)

// SSH executes commands over the SSH transport. A fresh connection is
// dialed per command so hosts mid-reboot never poison a pooled client.
type SSH struct {
	signers     []ssh.Signer
	dialTimeout time.Duration
}

// NewSSH builds an executor authenticating with the given signers, tried
// in order.
func NewSSH(signers []ssh.Signer) *SSH {
	return &SSH{
		signers:     signers,
		dialTimeout: DefaultDialTimeout,
	}
}

// Probe dials the host's SSH port to check reachability.
func (s *SSH) Probe(ctx context.Context, host types.Host) error {
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host.Addr())
	if err != nil {
		return types.NewFailure(types.FailureUnreachable, host.Label(), err)
	}
	return conn.Close()
}

// Run executes a single command on the host. Non-zero exits come back as
// an Outcome; transport, timeout and auth problems come back as errors
// carrying their failure kind.
func (s *SSH) Run(ctx context.Context, host types.Host, command string, privilege Privilege, timeout time.Duration) (*Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()

	client, err := s.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, types.NewFailure(types.FailureUnreachable, host.Label(), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command = renderCommand(command, privilege)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// unblocks the session.Run goroutine
		client.Close()
		return nil, types.NewFailure(types.FailureTimeout, host.Label(),
			fmt.Errorf("command %q: %w", command, ctx.Err()))
	case err = <-done:
	}

	outcome := &Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	switch e := err.(type) {
	case nil:
		return outcome, nil
	case *ssh.ExitError:
		outcome.ExitCode = e.ExitStatus()
		return outcome, nil
	case *ssh.ExitMissingError:
		// connection dropped before an exit status arrived, which is what
		// a reboot command looks like from this side
		return nil, types.NewFailure(types.FailureUnreachable, host.Label(), e)
	default:
		return nil, types.NewFailure(types.FailureUnreachable, host.Label(), err)
	}
}

func (s *SSH) dial(ctx context.Context, host types.Host) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host.Addr())
	if err != nil {
		kind := types.FailureUnreachable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = types.FailureTimeout
		}
		return nil, types.NewFailure(kind, host.Label(), err)
	}

	config := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.signers...)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.dialTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host.Addr(), config)
	if err != nil {
		conn.Close()
		return nil, types.NewFailure(classifyHandshake(err), host.Label(), err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// renderCommand prefixes elevated commands with non-interactive sudo.
func renderCommand(command string, privilege Privilege) string {
	if privilege == PrivilegeElevated {
		return sudoPrefix + command
	}
	return command
}

func classifyHandshake(err error) types.FailureKind {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied") {
		return types.FailureAuth
	}
	return types.FailureUnreachable
}
