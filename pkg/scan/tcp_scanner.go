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
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

// Scanner probes a set of targets and streams results back.
type Scanner interface {
	Scan(ctx context.Context, targets []models.Target) (<-chan models.Result, error)
	Stop() error
}

// Ports probed by the discovery sweep to decide whether a host is up.
var DiscoveryPorts = []int{22, 80, 443, 3389, 5985, 5986}

// Extended port set used when classifying a responder.
var ClassificationPorts = []int{21, 22, 23, 25, 53, 80, 110, 135, 139, 143, 443, 445, 631, 3306, 3389, 5432, 5985, 5986, 8080, 8443, 9100}

const (
	defaultTCPTimeout     = 150 * time.Millisecond
	defaultTCPConcurrency = 60

	workQueueMultiplier = 2
)

// TCPSweeper performs bounded-concurrency TCP connect probes.
type TCPSweeper struct {
	timeout     time.Duration
	concurrency int
	cancel      context.CancelFunc
	logger      logger.Logger
}

var _ Scanner = (*TCPSweeper)(nil)

func NewTCPSweeper(timeout time.Duration, concurrency int, log logger.Logger) *TCPSweeper {
	if timeout == 0 {
		timeout = defaultTCPTimeout
	}

	if concurrency == 0 {
		concurrency = defaultTCPConcurrency
	}

	return &TCPSweeper{
		timeout:     timeout,
		concurrency: concurrency,
		logger:      log,
	}
}

func (s *TCPSweeper) Scan(ctx context.Context, targets []models.Target) (<-chan models.Result, error) {
	tcpTargets := filterMode(targets, models.ModeTCP)
	if len(tcpTargets) == 0 {
		ch := make(chan models.Result)
		close(ch)

		return ch, nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	resultCh := make(chan models.Result, len(tcpTargets))
	workCh := make(chan models.Target, s.concurrency*workQueueMultiplier)

	var wg sync.WaitGroup

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s.worker(scanCtx, workCh, resultCh)
		}()
	}

	go func() {
		defer close(workCh)

		for _, t := range tcpTargets {
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

func (s *TCPSweeper) worker(ctx context.Context, workCh <-chan models.Target, resultCh chan<- models.Result) {
	for t := range workCh {
		result := models.Result{Target: t}

		avail, rtt, err := s.checkPort(ctx, t.Host, t.Port)
		result.Available = avail
		result.RespTime = rtt

		if err != nil {
			result.Error = err
		}

		select {
		case <-ctx.Done():
			return
		case resultCh <- result:
		}
	}
}

func (s *TCPSweeper) checkPort(ctx context.Context, host string, port int) (bool, time.Duration, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()

	var dialer net.Dialer

	conn, err := dialer.DialContext(probeCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		// A timeout or refusal is a negative result, not a failure.
		if probeCtx.Err() != nil {
			return false, time.Since(start), ErrProbeTimeout
		}

		return false, time.Since(start), err
	}

	defer func(conn net.Conn) {
		if err := conn.Close(); err != nil {
			s.logger.Error().Err(err).Msg("failed to close connection")
		}
	}(conn)

	return true, time.Since(start), nil
}

func (s *TCPSweeper) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	return nil
}

func filterMode(targets []models.Target, mode models.SweepMode) []models.Target {
	var filtered []models.Target

	for _, t := range targets {
		if t.Mode == mode {
			filtered = append(filtered, t)
		}
	}

	return filtered
}
