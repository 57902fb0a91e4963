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

// Package sink pushes the provenance graph to an external store. The
// builder never depends on sink internals; the sink consumes the finished
// graph.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/provlab/provscan/pkg/graph"
	"github.com/provlab/provscan/pkg/logger"
)

// ErrSinkUnavailable means credentials were configured but the store did
// not respond.
var ErrSinkUnavailable = errors.New("graph sink unreachable")

// Environment variables configuring the sink. An unset URI disables the
// push step entirely.
const (
	EnvURI      = "NEO4J_URI"
	EnvUser     = "NEO4J_USER"
	EnvPassword = "NEO4J_PASSWORD"
)

// Neo4jSink upserts nodes by neo_id and edges by (src, dst, rel_type).
type Neo4jSink struct {
	driver neo4j.DriverWithContext
	log    logger.Logger
}

// NewFromEnv builds a sink from environment credentials. Returns (nil, nil)
// when NEO4J_URI is unset; returns ErrSinkUnavailable when credentials are
// present but the store does not answer.
func NewFromEnv(ctx context.Context, log logger.Logger) (*Neo4jSink, error) {
	uri := os.Getenv(EnvURI)
	if uri == "" {
		log.Info().Msg("NEO4J_URI not set, graph push disabled")

		return nil, nil
	}

	return New(ctx, uri, os.Getenv(EnvUser), os.Getenv(EnvPassword), log)
}

func New(ctx context.Context, uri, user, password string, log logger.Logger) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)

		return nil, fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, uri, err)
	}

	return &Neo4jSink{driver: driver, log: log}, nil
}

// Clear removes all prior data from the store.
func (s *Neo4jSink) Clear(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
	})

	if err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	return nil
}

// Push upserts the whole graph. Nodes merge on neo_id with their scalar
// attributes; non-scalar attributes are skipped with a warning. Edges merge
// on the (src, dst, rel_type) triple, keeping at most one per type.
func (s *Neo4jSink) Push(ctx context.Context, g *graph.Graph) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, node := range g.Nodes() {
			query := fmt.Sprintf("MERGE (n:`%s` {neo_id: $id}) SET n += $props", node.Kind)

			if _, err := tx.Run(ctx, query, map[string]any{
				"id":    node.ID,
				"props": s.scalarProps(node),
			}); err != nil {
				return nil, fmt.Errorf("upsert node %s: %w", node.ID, err)
			}
		}

		for _, edge := range g.Edges() {
			query := fmt.Sprintf(
				"MATCH (a {neo_id: $src}) MATCH (b {neo_id: $dst}) MERGE (a)-[:`%s`]->(b)",
				relationshipName(edge.RelType))

			if _, err := tx.Run(ctx, query, map[string]any{
				"src": edge.Src,
				"dst": edge.Dst,
			}); err != nil {
				return nil, fmt.Errorf("upsert edge %s-[%s]->%s: %w", edge.Src, edge.RelType, edge.Dst, err)
			}
		}

		return nil, nil
	})

	if err != nil {
		return err
	}

	s.log.Info().Int("nodes", g.NodeCount()).Int("edges", g.EdgeCount()).Msg("graph pushed")

	return nil
}

func (s *Neo4jSink) scalarProps(node *graph.Node) map[string]any {
	props := make(map[string]any, len(node.Attrs))

	for key, value := range node.Attrs {
		if !graph.IsScalar(value) {
			s.log.Warn().Str("node", node.ID).Str("attr", key).Msg("non-scalar attribute skipped")

			continue
		}

		props[key] = value
	}

	return props
}

// relationshipName normalizes a rel type for the store: uppercase, spaces
// replaced with underscores.
func relationshipName(relType string) string {
	return strings.ReplaceAll(strings.ToUpper(relType), " ", "_")
}

func (s *Neo4jSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
