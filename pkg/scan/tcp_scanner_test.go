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

package scan

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

func TestTCPSweeperFindsOpenPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer listener.Close()

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	sweeper := NewTCPSweeper(500*time.Millisecond, 4, logger.NewTestLogger())

	results, err := sweeper.Scan(context.Background(), []models.Target{
		{Host: "127.0.0.1", Port: port, Mode: models.ModeTCP},
	})
	require.NoError(t, err)

	var got []models.Result
	for r := range results {
		got = append(got, r)
	}

	require.Len(t, got, 1)
	assert.True(t, got[0].Available)
	assert.Equal(t, port, got[0].Target.Port)
}

func TestTCPSweeperClosedPortIsNegative(t *testing.T) {
	// Grab a free port and release it so nothing listens there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	sweeper := NewTCPSweeper(200*time.Millisecond, 2, logger.NewTestLogger())

	results, err := sweeper.Scan(context.Background(), []models.Target{
		{Host: "127.0.0.1", Port: port, Mode: models.ModeTCP},
	})
	require.NoError(t, err)

	var got []models.Result
	for r := range results {
		got = append(got, r)
	}

	require.Len(t, got, 1)
	assert.False(t, got[0].Available)
}

func TestTCPSweeperIgnoresNonTCPTargets(t *testing.T) {
	sweeper := NewTCPSweeper(0, 0, logger.NewTestLogger())

	results, err := sweeper.Scan(context.Background(), []models.Target{
		{Host: "127.0.0.1", Mode: models.ModeICMP},
	})
	require.NoError(t, err)

	count := 0
	for range results {
		count++
	}

	assert.Zero(t, count)
}

func TestOSHintFromTTL(t *testing.T) {
	tests := []struct {
		ttl  int
		want models.OSHint
	}{
		{ttl: 0, want: models.OSHintUnknown},
		{ttl: 48, want: models.OSHintLinuxLike},
		{ttl: 64, want: models.OSHintLinuxLike},
		{ttl: 70, want: models.OSHintLinuxLike},
		{ttl: 71, want: models.OSHintWindowsLike},
		{ttl: 128, want: models.OSHintWindowsLike},
		{ttl: 130, want: models.OSHintWindowsLike},
		{ttl: 131, want: models.OSHintUnknown},
		{ttl: 200, want: models.OSHintUnknown},
		{ttl: 201, want: models.OSHintNetworkDeviceLike},
		{ttl: 255, want: models.OSHintNetworkDeviceLike},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, OSHintFromTTL(tt.ttl), "ttl=%d", tt.ttl)
	}
}
