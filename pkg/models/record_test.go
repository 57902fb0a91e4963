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

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostRecordKeepsUnknownSections(t *testing.T) {
	payload := `{
		"schema_version": 1,
		"os": {"hostname": "node1", "os": "Linux"},
		"future_section": {"field": 42},
		"another_unknown": "text"
	}`

	var record HostRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &record))

	assert.Equal(t, SchemaVersion, record.SchemaVersion)
	require.NotNil(t, record.OS)
	assert.Equal(t, "node1", record.OS.Hostname)
	assert.Equal(t, "Linux", record.OS.System)

	require.Len(t, record.Extras, 2)
	assert.JSONEq(t, `{"field": 42}`, string(record.Extras["future_section"]))
	assert.JSONEq(t, `"text"`, string(record.Extras["another_unknown"]))
}

func TestHostRecordNoExtrasWhenAllKnown(t *testing.T) {
	payload := `{"schema_version": 1, "extraction_method": "ssh"}`

	var record HostRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &record))

	assert.Nil(t, record.Extras)
	assert.Equal(t, "ssh", record.ExtractionMethod)
}

func TestContainsMode(t *testing.T) {
	modes := []SweepMode{ModeARP, ModeTCP}

	assert.True(t, ContainsMode(modes, ModeARP))
	assert.True(t, ContainsMode(modes, ModeTCP))
	assert.False(t, ContainsMode(modes, ModeICMP))
}
