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

// Package transport moves the extraction agent to remote hosts, runs it
// and retrieves its output, over SSH or WinRM.
package transport

import (
	"context"
	"errors"
)

var (
	ErrRemoteOSUnknown = errors.New("could not determine remote operating system")
	ErrDeployFailed    = errors.New("agent deploy failed")
	ErrExecuteFailed   = errors.New("agent execution failed")
	ErrCollectFailed   = errors.New("agent output collection failed")
)

// Remote OS families a session can report.
const (
	OSLinux   = "linux"
	OSDarwin  = "darwin"
	OSWindows = "windows"
)

// Remote working directories for the staged agent.
const (
	posixAgentDir   = "/tmp/provenance_agent"
	windowsAgentDir = `C:\tmp\provenance_agent`

	posixAgentName   = "agent"
	windowsAgentName = "agent.exe"
)

// Credentials authenticate a remote session. KeyPath is SSH-only; WinRM
// uses user and password.
type Credentials struct {
	User     string
	Password string
	KeyPath  string
}

// Session is one connected remote host. Implementations stage the agent in
// a scratch directory, run it there and read back the files it wrote.
type Session interface {
	// OS reports the detected remote OS family.
	OS() string

	// Deploy uploads the agent binary at localPath to the remote
	// scratch directory.
	Deploy(ctx context.Context, localPath string) error

	// Execute runs the staged agent. The agent writes output.json and
	// output.yml next to itself.
	Execute(ctx context.Context) error

	// Collect reads back the agent's JSON and YAML output.
	Collect(ctx context.Context) (jsonOut, yamlOut []byte, err error)

	// Cleanup removes the remote scratch directory.
	Cleanup(ctx context.Context) error

	Close() error
}
