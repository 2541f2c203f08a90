package sshpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// AuthError marks a host whose authentication was rejected. It is terminal
// for that host for the remainder of the run.
type AuthError struct {
	HostID string
	Cause  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for host %s: %v", e.HostID, e.Cause)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// DialFunc opens a fresh authenticated session to a host. Tests substitute
// their own implementation.
type DialFunc func(ctx context.Context, cred Credential) (Session, error)

func newDialFunc(connectTimeout time.Duration) DialFunc {
	return func(ctx context.Context, cred Credential) (Session, error) {
		sshConfig, err := clientConfig(cred, connectTimeout)
		if err != nil {
			return nil, err
		}

		client, err := dialSSH(ctx, "tcp", cred.Addr(), sshConfig)
		if err != nil {
			if isAuthFailure(err) {
				return nil, &AuthError{HostID: cred.HostID, Cause: err}
			}
			return nil, fmt.Errorf("failed to dial ssh: %w", err)
		}

		files, err := sftp.NewClient(client)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to initialize sftp subsystem: %w", err)
		}

		return &sshSession{hostID: cred.HostID, client: client, files: files}, nil
	}
}

func clientConfig(cred Credential, connectTimeout time.Duration) (*ssh.ClientConfig, error) {
	sshConfig := &ssh.ClientConfig{
		User:            cred.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	if cred.PrivateKey != "" {
		key, err := ssh.ParsePrivateKey([]byte(cred.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(key)}
	} else if cred.Password != "" {
		sshConfig.Auth = []ssh.AuthMethod{ssh.Password(cred.Password)}
	} else {
		return nil, fmt.Errorf("either password or private key must be provided")
	}

	return sshConfig, nil
}

// dialSSH performs the TCP connect and SSH handshake under ctx so a blocked
// handshake does not outlive a cancelled run.
func dialSSH(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result)
	go func() {
		var client *ssh.Client
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err == nil {
			client = ssh.NewClient(c, chans, reqs)
		}
		select {
		case ch <- result{client, err}:
		case <-ctx.Done():
			if client != nil {
				client.Close()
			}
		}
	}()
	select {
	case res := <-ch:
		return res.client, res.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// isAuthFailure recognizes a rejected handshake. x/crypto/ssh does not export
// a client-side error type for this, so the message is the contract.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}
