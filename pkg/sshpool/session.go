package sshpool

import (
	"context"
	"io"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// FS is the remote filesystem surface the transfer engine needs. *sftp.Client
// provides all of it; the indirection exists so tests can fake the remote end.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string) error
	Create(path string) (io.WriteCloser, error)
	Remove(path string) error
	Rename(oldname, newname string) error
}

// Session is an authenticated channel to one remote host. A Session is reused
// across sequential transfers but is never bound to two transfers at once;
// the Pool enforces that.
type Session interface {
	HostID() string
	Files() FS
	RunCommand(ctx context.Context, command string) (string, error)
	Close() error
}

type sshSession struct {
	hostID string
	client *ssh.Client
	files  *sftp.Client
}

func (s *sshSession) HostID() string {
	return s.hostID
}

func (s *sshSession) Files() FS {
	return sftpFS{s.files}
}

// RunCommand executes a single command on the remote host, for example a
// post-transfer library scan. The command is killed when ctx is cancelled.
func (s *sshSession) RunCommand(ctx context.Context, command string) (string, error) {
	execSession, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer func() { _ = execSession.Close() }()

	type result struct {
		output []byte
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		output, err := execSession.CombinedOutput(command)
		ch <- result{output, err}
	}()

	select {
	case res := <-ch:
		return string(res.output), res.err
	case <-ctx.Done():
		_ = execSession.Signal(ssh.SIGKILL)
		return "", context.Cause(ctx)
	}
}

func (s *sshSession) Close() error {
	if s.files != nil {
		_ = s.files.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// sftpFS adapts *sftp.Client to FS. Create needs the wrapper because
// *sftp.File is a concrete return type.
type sftpFS struct {
	client *sftp.Client
}

func (f sftpFS) Stat(path string) (os.FileInfo, error) { return f.client.Stat(path) }
func (f sftpFS) MkdirAll(path string) error            { return f.client.MkdirAll(path) }
func (f sftpFS) Remove(path string) error              { return f.client.Remove(path) }
func (f sftpFS) Rename(oldname, newname string) error  { return f.client.Rename(oldname, newname) }

func (f sftpFS) Create(path string) (io.WriteCloser, error) {
	return f.client.Create(path)
}
