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

// Package extract implements the per-subject host probes. Each extractor is
// a pure function from host state to a typed record; failures produce a
// partial record with an error string, never an abort.
package extract

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

const commandTimeout = 10 * time.Second

// goos is resolved once per process; extractors dispatch on it instead of
// branching per call.
var goos = runtime.GOOS

// RunAll executes every extractor in the fixed agent order and assembles the
// per-host record. Individual extractor failures are recorded in the section
// error fields.
func RunAll(ctx context.Context, log logger.Logger) *models.HostRecord {
	record := &models.HostRecord{SchemaVersion: models.SchemaVersion}

	record.OS = OS(ctx)
	record.Hardware = Hardware(ctx)
	record.Network = Network(ctx)
	record.Users = Users(ctx)
	record.Services = Services(ctx)
	record.Software = Software(ctx)
	record.Routing = Routing(ctx)
	record.Virtualization = Virtualization(ctx)

	for name, errMsg := range sectionErrors(record) {
		log.Warn().Str("extractor", name).Str("error", errMsg).Msg("extractor returned partial data")
	}

	return record
}

func sectionErrors(r *models.HostRecord) map[string]string {
	errs := make(map[string]string)

	if r.OS != nil && r.OS.Error != "" {
		errs["os"] = r.OS.Error
	}

	if r.Hardware != nil && r.Hardware.Error != "" {
		errs["hardware"] = r.Hardware.Error
	}

	if r.Network != nil && r.Network.Error != "" {
		errs["network"] = r.Network.Error
	}

	if r.Users != nil && r.Users.Error != "" {
		errs["users"] = r.Users.Error
	}

	if r.Services != nil && r.Services.Error != "" {
		errs["services"] = r.Services.Error
	}

	if r.Software != nil && r.Software.Error != "" {
		errs["software"] = r.Software.Error
	}

	if r.Routing != nil && r.Routing.Error != "" {
		errs["routing"] = r.Routing.Error
	}

	if r.Virtualization != nil && r.Virtualization.Error != "" {
		errs["virtualization"] = r.Virtualization.Error
	}

	return errs
}

// runCommand executes a platform tool and returns its trimmed stdout.
// Missing tools and non-zero exits yield an empty string.
func runCommand(ctx context.Context, name string, args ...string) string {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(cmdCtx, name, args...).Output()
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(out))
}
