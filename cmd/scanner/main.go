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

// The provenance scanner: four-phase discovery feeding a typed provenance
// graph, with optional push to a Neo4j store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/provlab/provscan/pkg/discovery"
	"github.com/provlab/provscan/pkg/graph"
	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/sink"
	"github.com/provlab/provscan/pkg/snapshot"
	"github.com/provlab/provscan/pkg/transport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	enableICMP := flag.Bool("icmp", false, "enable ICMP sweep in addition to ARP and TCP")
	dataDir := flag.String("data-dir", snapshot.DefaultDataDir, "directory for phase artifacts")
	parallel := flag.Int("parallel", 1, "concurrent remote agent sessions")
	remoteUser := flag.String("remote-user", "vagrant", "remote username for SSH and WinRM")
	remotePassword := flag.String("remote-password", "", "remote password")
	sshKey := flag.String("ssh-key", "", "path to SSH private key")
	agentPath := flag.String("agent", "build/linux/provenance_agent", "agent binary for POSIX targets")
	agentWindows := flag.String("agent-windows", "build/windows/provenance_agent.exe", "agent binary for Windows targets")
	flag.Parse()

	log := logger.New(logger.Config{Debug: *debug, Output: "stderr"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, options{
		enableICMP:   *enableICMP,
		dataDir:      *dataDir,
		parallel:     *parallel,
		agentPath:    *agentPath,
		agentWindows: *agentWindows,
		creds: transport.Credentials{
			User:     *remoteUser,
			Password: *remotePassword,
			KeyPath:  *sshKey,
		},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	enableICMP   bool
	dataDir      string
	parallel     int
	agentPath    string
	agentWindows string
	creds        transport.Credentials
}

func run(ctx context.Context, log logger.Logger, opts options) error {
	files := snapshot.NewFileSink(opts.dataDir, log)

	// Phase 0: inventory the scanner host. Nothing touches the wire.
	inv := discovery.SelfDiscover(ctx, log)

	if _, err := files.Write(snapshot.LabelPhase0, inv); err != nil {
		log.Warn().Err(err).Msg("phase0 artifact not written")
	}

	// Interface selection.
	selector := discovery.NewSelector(discovery.DetectEnv(ctx, inv), log)

	candidates, err := selector.Select(ctx)
	if err != nil {
		if errors.Is(err, discovery.ErrNoSuitableInterface) {
			return fmt.Errorf("no interface suitable for scanning: %w", err)
		}

		return err
	}

	for _, cand := range candidates {
		log.Info().
			Str("interface", cand.Name).
			Str("ip", cand.IP).
			Int("score", cand.Score).
			Str("reason", cand.Reason).
			Msg("interface selected")
	}

	// Phase 1: sweep the selected networks.
	phase1 := discovery.NewPhase1(discovery.Phase1Config{EnableICMP: opts.enableICMP}, log)
	report := phase1.Run(ctx, candidates, inv)

	if _, err := files.Write(snapshot.LabelPhase1, report); err != nil {
		log.Warn().Err(err).Msg("phase1 artifact not written")
	}

	// Phase 2: agent rollout to eligible responders.
	phase2 := discovery.NewPhase2(discovery.Phase2Config{
		AgentPath:        opts.agentPath,
		WindowsAgentPath: opts.agentWindows,
		Credentials:      opts.creds,
		Parallelism:      opts.parallel,
	}, log)

	records := phase2.Run(ctx, report, inv)

	for ip, record := range records {
		if _, err := files.WriteHostRecord(ip, record); err != nil {
			log.Warn().Err(err).Str("host", ip).Msg("phase2 artifact not written")
		}
	}

	if _, err := files.Write(snapshot.LabelPhase2Distributed, records); err != nil {
		log.Warn().Err(err).Msg("phase2 summary artifact not written")
	}

	// Assemble the snapshot and build the graph.
	snap := snapshot.Build(inv, report, records)

	if _, err := files.Write(snapshot.LabelSystemConstruction, snap); err != nil {
		log.Warn().Err(err).Msg("snapshot artifact not written")
	}

	g := graph.NewBuilder(log).Build(snap)

	// Push to the store when credentials are configured.
	store, err := sink.NewFromEnv(ctx, log)
	if err != nil {
		return err
	}

	if store == nil {
		return nil
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("sink close failed")
		}
	}()

	if err := store.Clear(ctx); err != nil {
		return err
	}

	return store.Push(ctx, g)
}
