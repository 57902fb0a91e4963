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
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"github.com/provlab/provscan/pkg/logger"
)

const (
	winrmPort        = 5985
	winrmDialTimeout = 30 * time.Second

	// Encoded chunk size kept well under the Windows command line limit.
	uploadChunkSize = 4000
)

// WinRMSession runs the agent on a Windows host over WinRM with NTLM auth.
// File transfer goes through base64 chunks since WinRM has no file channel.
type WinRMSession struct {
	client *winrm.Client
	host   string
	log    logger.Logger
}

var _ Session = (*WinRMSession)(nil)

// DialWinRM connects over HTTP WinRM and verifies the shell responds.
func DialWinRM(ctx context.Context, host string, creds Credentials, log logger.Logger) (*WinRMSession, error) {
	endpoint := winrm.NewEndpoint(host, winrmPort, false, true, nil, nil, nil, winrmDialTimeout)

	params := winrm.DefaultParameters
	params.TransportDecorator = func() winrm.Transporter { return &winrm.ClientNTLM{} }

	client, err := winrm.NewClientWithParameters(endpoint, creds.User, creds.Password, params)
	if err != nil {
		return nil, fmt.Errorf("winrm client %s: %w", host, err)
	}

	s := &WinRMSession{
		client: client,
		host:   host,
		log:    logger.FromZerolog(log.With().Str("host", host).Str("transport", "winrm").Logger()),
	}

	out, err := s.runPS(ctx, "$env:OS")
	if err != nil {
		return nil, fmt.Errorf("winrm probe %s: %w", host, err)
	}

	if !strings.Contains(out, "Windows") {
		return nil, fmt.Errorf("%w: host %s reported %q", ErrRemoteOSUnknown, host, strings.TrimSpace(out))
	}

	s.log.Debug().Msg("winrm session established")

	return s, nil
}

func (s *WinRMSession) runPS(ctx context.Context, script string) (string, error) {
	var stdout, stderr bytes.Buffer

	code, err := s.client.RunWithContext(ctx, winrm.Powershell(script), &stdout, &stderr)
	if err != nil {
		return stdout.String(), err
	}

	if code != 0 {
		return stdout.String(), fmt.Errorf("exit code %d (stderr: %s)", code, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (s *WinRMSession) OS() string { return OSWindows }

func (s *WinRMSession) agentPath() string {
	return windowsAgentDir + `\` + windowsAgentName
}

// Deploy streams the agent binary as base64 chunks into a staging file and
// decodes it remotely.
func (s *WinRMSession) Deploy(ctx context.Context, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: read local agent %s: %v", ErrDeployFailed, localPath, err)
	}

	stage := windowsAgentDir + `\agent.b64`

	setup := fmt.Sprintf(
		`New-Item -ItemType Directory -Force -Path '%s' | Out-Null; `+
			`Remove-Item -Force -ErrorAction SilentlyContinue '%s'`,
		windowsAgentDir, stage)

	if _, err := s.runPS(ctx, setup); err != nil {
		return fmt.Errorf("%w: prepare %s on %s: %v", ErrDeployFailed, windowsAgentDir, s.host, err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)

	for off := 0; off < len(encoded); off += uploadChunkSize {
		end := off + uploadChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}

		chunk := fmt.Sprintf(`Add-Content -Path '%s' -Value '%s' -NoNewline`, stage, encoded[off:end])

		if _, err := s.runPS(ctx, chunk); err != nil {
			return fmt.Errorf("%w: upload chunk to %s: %v", ErrDeployFailed, s.host, err)
		}
	}

	decode := fmt.Sprintf(
		`[IO.File]::WriteAllBytes('%s', [Convert]::FromBase64String([IO.File]::ReadAllText('%s'))); `+
			`Remove-Item -Force '%s'`,
		s.agentPath(), stage, stage)

	if _, err := s.runPS(ctx, decode); err != nil {
		return fmt.Errorf("%w: decode agent on %s: %v", ErrDeployFailed, s.host, err)
	}

	s.log.Debug().Str("remote_path", s.agentPath()).Int("bytes", len(data)).Msg("agent deployed")

	return nil
}

func (s *WinRMSession) Execute(ctx context.Context) error {
	script := fmt.Sprintf(`Set-Location '%s'; & '%s'`, windowsAgentDir, s.agentPath())

	if out, err := s.runPS(ctx, script); err != nil {
		return fmt.Errorf("%w: %s: %v (output: %s)", ErrExecuteFailed, s.host, err, strings.TrimSpace(out))
	}

	return nil
}

func (s *WinRMSession) Collect(ctx context.Context) (jsonOut, yamlOut []byte, err error) {
	jsonOut, err = s.readRemote(ctx, "output.json")
	if err != nil {
		return nil, nil, err
	}

	yamlOut, err = s.readRemote(ctx, "output.yml")
	if err != nil {
		return nil, nil, err
	}

	return jsonOut, yamlOut, nil
}

// readRemote round-trips the file through base64 so the content survives
// the WinRM text channel untouched.
func (s *WinRMSession) readRemote(ctx context.Context, name string) ([]byte, error) {
	remote := windowsAgentDir + `\` + name

	script := fmt.Sprintf(`[Convert]::ToBase64String([IO.File]::ReadAllBytes('%s'))`, remote)

	out, err := s.runPS(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s on %s: %v", ErrCollectFailed, remote, s.host, err)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s from %s: %v", ErrCollectFailed, remote, s.host, err)
	}

	return data, nil
}

func (s *WinRMSession) Cleanup(ctx context.Context) error {
	script := fmt.Sprintf(`Remove-Item -Recurse -Force -ErrorAction SilentlyContinue '%s'`, windowsAgentDir)

	if _, err := s.runPS(ctx, script); err != nil {
		s.log.Warn().Err(err).Msg("remote cleanup failed")

		return err
	}

	return nil
}

func (s *WinRMSession) Close() error { return nil }
