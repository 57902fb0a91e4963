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
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

const (
	defaultICMPTimeout     = time.Second
	defaultICMPConcurrency = 80
)

var ttlPattern = regexp.MustCompile(`(?i)ttl[=|](\d+)`)

// Ping sends a single ICMP echo via the system ping binary and reports
// reachability plus the observed TTL (0 when unavailable).
func Ping(ctx context.Context, ip string, timeout time.Duration) (alive bool, ttl int) {
	if timeout == 0 {
		timeout = defaultICMPTimeout
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var args []string

	if runtime.GOOS == "windows" {
		args = []string{"-n", "1", "-w", strconv.Itoa(int(timeout.Milliseconds())), ip}
	} else {
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}

		args = []string{"-c", "1", "-W", strconv.Itoa(secs), ip}
	}

	out, err := exec.CommandContext(pingCtx, "ping", args...).CombinedOutput()
	if err != nil {
		return false, 0
	}

	m := ttlPattern.FindSubmatch(out)
	if m == nil {
		return false, 0
	}

	parsed, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return true, 0
	}

	return true, parsed
}

// OSHintFromTTL maps an observed TTL to a coarse OS family guess.
// Typical initial TTLs: 64 (Unix-like), 128 (Windows), 255 (network gear).
func OSHintFromTTL(ttl int) models.OSHint {
	switch {
	case ttl <= 0:
		return models.OSHintUnknown
	case ttl <= 70:
		return models.OSHintLinuxLike
	case ttl <= 130:
		return models.OSHintWindowsLike
	case ttl > 200:
		return models.OSHintNetworkDeviceLike
	default:
		return models.OSHintUnknown
	}
}

// ICMPSweeper performs bounded-concurrency single-packet pings.
type ICMPSweeper struct {
	timeout     time.Duration
	concurrency int
	cancel      context.CancelFunc
	logger      logger.Logger
}

var _ Scanner = (*ICMPSweeper)(nil)

func NewICMPSweeper(timeout time.Duration, concurrency int, log logger.Logger) *ICMPSweeper {
	if timeout == 0 {
		timeout = defaultICMPTimeout
	}

	if concurrency == 0 {
		concurrency = defaultICMPConcurrency
	}

	return &ICMPSweeper{
		timeout:     timeout,
		concurrency: concurrency,
		logger:      log,
	}
}

func (s *ICMPSweeper) Scan(ctx context.Context, targets []models.Target) (<-chan models.Result, error) {
	icmpTargets := filterMode(targets, models.ModeICMP)
	if len(icmpTargets) == 0 {
		ch := make(chan models.Result)
		close(ch)

		return ch, nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	resultCh := make(chan models.Result, len(icmpTargets))
	workCh := make(chan models.Target, s.concurrency*workQueueMultiplier)

	var wg sync.WaitGroup

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for t := range workCh {
				start := time.Now()
				alive, _ := Ping(scanCtx, t.Host, s.timeout)

				select {
				case <-scanCtx.Done():
					return
				case resultCh <- models.Result{Target: t, Available: alive, RespTime: time.Since(start)}:
				}
			}
		}()
	}

	go func() {
		defer close(workCh)

		for _, t := range icmpTargets {
			select {
			case <-scanCtx.Done():
				return
			case workCh <- t:
			}
		}
	}()

	go func() {
		wg.Wait()

		close(resultCh)
	}()

	return resultCh, nil
}

func (s *ICMPSweeper) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	return nil
}
