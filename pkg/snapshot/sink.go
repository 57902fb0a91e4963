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

package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

const (
	// DefaultDataDir is where phase artifacts land unless overridden.
	DefaultDataDir = "testing/data"

	stampFormat     = "20060102_150405"
	artifactDirPerm = 0o755
	artifactPerm    = 0o644
)

// Artifact labels written during a run.
const (
	LabelPhase0             = "phase0"
	LabelPhase1             = "phase1"
	LabelPhase2Distributed  = "phase2_distributed"
	LabelSystemConstruction = "system_construction"
)

// FileSink persists phase artifacts as timestamped JSON and YAML pairs.
type FileSink struct {
	dir string
	log logger.Logger

	// now is swappable for deterministic filenames in tests.
	now func() time.Time
}

func NewFileSink(dir string, log logger.Logger) *FileSink {
	if dir == "" {
		dir = DefaultDataDir
	}

	return &FileSink{dir: dir, log: log, now: time.Now}
}

// Dir returns the sink's output directory.
func (s *FileSink) Dir() string { return s.dir }

// Write stores v under <label>_<timestamp>.json and .yml and returns the
// JSON path.
func (s *FileSink) Write(label string, v any) (string, error) {
	stamp := s.now().UTC().Format(stampFormat)

	return s.writePair(fmt.Sprintf("%s_%s", label, stamp), v)
}

// WriteHostRecord stores one Phase 2 host record keyed by target IP.
func (s *FileSink) WriteHostRecord(ip string, record *models.HostRecord) (string, error) {
	stamp := s.now().UTC().Format(stampFormat)

	return s.writePair(fmt.Sprintf("phase2_%s_%s", ip, stamp), record)
}

func (s *FileSink) writePair(base string, v any) (string, error) {
	if err := os.MkdirAll(s.dir, artifactDirPerm); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", s.dir, err)
	}

	jsonPath := filepath.Join(s.dir, base+".json")

	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", base, err)
	}

	if err := os.WriteFile(jsonPath, jsonData, artifactPerm); err != nil {
		return "", fmt.Errorf("write %s: %w", jsonPath, err)
	}

	yamlPath := filepath.Join(s.dir, base+".yml")

	yamlData, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s to yaml: %w", base, err)
	}

	if err := os.WriteFile(yamlPath, yamlData, artifactPerm); err != nil {
		return "", fmt.Errorf("write %s: %w", yamlPath, err)
	}

	s.log.Debug().Str("json", jsonPath).Str("yaml", yamlPath).Msg("artifact written")

	return jsonPath, nil
}
