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

// The extraction agent runs every host extractor and writes output.json and
// output.yml next to its own binary. It exits zero even when individual
// extractors report errors; only a failed write is fatal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/provlab/provscan/pkg/extract"
	"github.com/provlab/provscan/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Output: "stderr"})

	record := extract.RunAll(context.Background(), log)

	dir, err := outputDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}

	jsonData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: marshal json: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(filepath.Join(dir, "output.json"), jsonData, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "agent: write output.json: %v\n", err)
		os.Exit(1)
	}

	yamlData, err := yaml.Marshal(record)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: marshal yaml: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(filepath.Join(dir, "output.yml"), yamlData, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "agent: write output.yml: %v\n", err)
		os.Exit(1)
	}

	log.Info().Str("dir", dir).Msg("extraction complete")
}

// outputDir is the directory containing the agent binary itself.
func outputDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}

	return filepath.Dir(exe), nil
}
