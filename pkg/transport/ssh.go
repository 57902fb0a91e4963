/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/provlab/provscan/pkg/logger"
)

const (
	sshPort        = 22
	sshDialTimeout = 10 * time.Second

	// sshExecuteTimeout bounds any remote operation whose context carries
	// no deadline of its own.
	sshExecuteTimeout = 60 * time.Second
)

// SSHSession runs the agent on a remote host over SSH, using SFTP for file
// transfer.
type SSHSession struct {
	client *ssh.Client
	sftp   *sftp.Client
	host   string
	os     string
	log    logger.Logger
}

var _ Session = (*SSHSession)(nil)

// DialSSH connects, authenticates and detects the remote OS. Lab targets
// are unattended VMs, so host keys are not verified.
func DialSSH(ctx context.Context, host string, creds Credentials, log logger.Logger) (*SSHSession, error) {
	auth, err := sshAuthMethods(creds)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab VMs have no known_hosts
		Timeout:         sshDialTimeout,
	}

	addr := host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		addr = net.JoinHostPort(host, fmt.Sprintf("%d", sshPort))
	}

	dialer := net.Dialer{Timeout: sshDialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	// ClientConfig.Timeout covers only ssh.Dial; the handshake on an
	// existing conn needs its own deadline or a silent server blocks it.
	handshakeDeadline := time.Now().Add(sshDialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(handshakeDeadline) {
		handshakeDeadline = d
	}

	_ = conn.SetDeadline(handshakeDeadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("sftp subsystem %s: %w", host, err)
	}

	s := &SSHSession{
		client: client,
		sftp:   sftpClient,
		host:   host,
		log:    logger.FromZerolog(log.With().Str("host", host).Str("transport", "ssh").Logger()),
	}

	s.os, err = s.detectOS(ctx)
	if err != nil {
		_ = s.Close()

		return nil, err
	}

	s.log.Debug().Str("remote_os", s.os).Msg("ssh session established")

	return s, nil
}

func sshAuthMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if creds.KeyPath != "" {
		keyData, err := os.ReadFile(creds.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key %s: %w", creds.KeyPath, err)
		}

		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", creds.KeyPath, err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh auth method configured for user %q", creds.User)
	}

	return methods, nil
}

// detectOS runs uname first; a Windows OpenSSH server has no uname, so the
// fallback echoes the OS environment variable through cmd.
func (s *SSHSession) detectOS(ctx context.Context) (string, error) {
	if out, err := s.run(ctx, "uname -s"); err == nil {
		switch {
		case strings.Contains(out, "Linux"):
			return OSLinux, nil
		case strings.Contains(out, "Darwin"):
			return OSDarwin, nil
		}
	}

	if out, err := s.run(ctx, "cmd /c echo %OS%"); err == nil && strings.Contains(out, "Windows") {
		return OSWindows, nil
	}

	return "", fmt.Errorf("%w: host %s", ErrRemoteOSUnknown, s.host)
}

// boundedContext gives ctx the default execute timeout when it has no
// deadline of its own, so no remote operation can block indefinitely.
func boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, sshExecuteTimeout)
}

func (s *SSHSession) run(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := boundedContext(ctx)
	defer cancel()

	session, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(cmd); err != nil {
		return "", fmt.Errorf("remote command %q: %w", cmd, err)
	}

	done := make(chan error, 1)

	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		// Closing the session unblocks Wait on a hung remote command.
		_ = session.Close()

		return stdout.String(), fmt.Errorf("remote command %q: %w", cmd, ctx.Err())
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("remote command %q: %w (stderr: %s)",
				cmd, err, strings.TrimSpace(stderr.String()))
		}
	}

	return stdout.String(), nil
}

// await runs op in its own goroutine and tears the connection down when ctx
// expires, unblocking in-flight sftp calls that take no context.
func (s *SSHSession) await(ctx context.Context, op func() error) error {
	ctx, cancel := boundedContext(ctx)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- op() }()

	select {
	case <-ctx.Done():
		_ = s.Close()

		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *SSHSession) OS() string { return s.os }

func (s *SSHSession) agentDir() string {
	if s.os == OSWindows {
		return windowsAgentDir
	}

	return posixAgentDir
}

func (s *SSHSession) agentPath() string {
	if s.os == OSWindows {
		return windowsAgentDir + `\` + windowsAgentName
	}

	return path.Join(posixAgentDir, posixAgentName)
}

func (s *SSHSession) Deploy(ctx context.Context, localPath string) error {
	return s.await(ctx, func() error { return s.deploy(localPath) })
}

func (s *SSHSession) deploy(localPath string) error {
	dir := s.agentDir()

	if err := s.sftp.MkdirAll(dir); err != nil {
		return fmt.Errorf("%w: mkdir %s on %s: %v", ErrDeployFailed, dir, s.host, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open local agent %s: %v", ErrDeployFailed, localPath, err)
	}
	defer src.Close()

	remote := s.agentPath()

	dst, err := s.sftp.Create(remote)
	if err != nil {
		return fmt.Errorf("%w: create %s on %s: %v", ErrDeployFailed, remote, s.host, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return fmt.Errorf("%w: upload to %s: %v", ErrDeployFailed, s.host, err)
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: finalize upload to %s: %v", ErrDeployFailed, s.host, err)
	}

	if s.os != OSWindows {
		if err := s.sftp.Chmod(remote, 0o755); err != nil {
			return fmt.Errorf("%w: chmod %s on %s: %v", ErrDeployFailed, remote, s.host, err)
		}
	}

	s.log.Debug().Str("remote_path", remote).Msg("agent deployed")

	return nil
}

func (s *SSHSession) Execute(ctx context.Context) error {
	var cmd string

	if s.os == OSWindows {
		cmd = fmt.Sprintf(`cd /d %s && %s`, windowsAgentDir, windowsAgentName)
	} else {
		cmd = fmt.Sprintf("cd %s && ./%s", posixAgentDir, posixAgentName)
	}

	if out, err := s.run(ctx, cmd); err != nil {
		return fmt.Errorf("%w: %s: %v (output: %s)", ErrExecuteFailed, s.host, err, strings.TrimSpace(out))
	}

	return nil
}

func (s *SSHSession) Collect(ctx context.Context) (jsonOut, yamlOut []byte, err error) {
	err = s.await(ctx, func() error {
		jsonOut, err = s.readRemote("output.json")
		if err != nil {
			return err
		}

		yamlOut, err = s.readRemote("output.yml")

		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return jsonOut, yamlOut, nil
}

func (s *SSHSession) readRemote(name string) ([]byte, error) {
	var remote string

	if s.os == OSWindows {
		remote = windowsAgentDir + `\` + name
	} else {
		remote = path.Join(posixAgentDir, name)
	}

	f, err := s.sftp.Open(remote)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s on %s: %v", ErrCollectFailed, remote, s.host, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s on %s: %v", ErrCollectFailed, remote, s.host, err)
	}

	return data, nil
}

func (s *SSHSession) Cleanup(ctx context.Context) error {
	var cmd string

	if s.os == OSWindows {
		cmd = fmt.Sprintf(`cmd /c rmdir /s /q %s`, windowsAgentDir)
	} else {
		cmd = fmt.Sprintf("rm -rf %s", posixAgentDir)
	}

	if _, err := s.run(ctx, cmd); err != nil {
		s.log.Warn().Err(err).Msg("remote cleanup failed")

		return err
	}

	return nil
}

func (s *SSHSession) Close() error {
	if s.sftp != nil {
		_ = s.sftp.Close()
	}

	if s.client == nil {
		return nil
	}

	return s.client.Close()
}
