// Package graph is LTMC's typed-relationship store: a thin Neo4j
// adapter that degrades to Unavailable on writes and to the relational
// ResourceLinks fallback on reads whenever the driver can't reach the
// server.
package graph

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
)

// Adapter wraps a Neo4j driver. The anti-pattern this replaces hard-codes
// the relationship type as a node property (e.g. `r.type = $type`) so
// every edge is actually labeled :LINK in the graph — that defeats
// Cypher's own type-indexed traversal. Edge type labels here are instead
// interpolated directly into the relationship pattern after validation,
// since Cypher has no bind-parameter syntax for relationship types.
type Adapter struct {
	driver    neo4j.DriverWithContext
	available atomic.Bool
}

// typeLabelPattern restricts accepted link types to identifier-safe
// strings before they're ever interpolated into a Cypher query string,
// closing the injection surface that comes with not being able to
// parameterize relationship types.
var typeLabelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// New connects to uri and verifies connectivity once at startup. A
// connectivity failure does not fail construction — it returns an
// Adapter already in degraded mode, matching spec.md §4.4/B5: the graph
// backend is optional and its absence must never block the server from
// starting.
func New(ctx context.Context, uri, username, password string) (*Adapter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, ltmcerrors.Config("constructing neo4j driver: %v", err)
	}

	a := &Adapter{driver: driver}
	a.available.Store(a.probe(ctx))
	return a, nil
}

func (a *Adapter) probe(ctx context.Context) bool {
	return a.driver.VerifyConnectivity(ctx) == nil
}

// Available reports whether the graph backend answered the last probe.
func (a *Adapter) Available() bool { return a.available.Load() }

// sanitizeLinkType validates a user-supplied link type before it is
// spliced into a Cypher relationship pattern.
func sanitizeLinkType(linkType string) (string, error) {
	if !typeLabelPattern.MatchString(linkType) {
		return "", ltmcerrors.Validation("link_type %q is not a valid graph edge type label", linkType)
	}
	return linkType, nil
}

// UpsertResourceNode ensures a :Resource node exists for id.
func (a *Adapter) UpsertResourceNode(ctx context.Context, id int64, fileName, resourceType string) error {
	if !a.Available() {
		return ltmcerrors.Unavailable("graph backend unavailable")
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		_, err := tx.Run(ctx, `
			MERGE (r:Resource {id: $id})
			SET r.file_name = $file_name, r.resource_type = $resource_type`,
			map[string]interface{}{"id": id, "file_name": fileName, "resource_type": resourceType})
		return nil, err
	})
	if err != nil {
		a.available.Store(false)
		return ltmcerrors.Storage(ltmcerrors.BackendGraph, err)
	}
	return nil
}

// CreateEdge creates a typed, weighted edge between two resource nodes,
// using link.LinkType verbatim as the Cypher relationship type.
func (a *Adapter) CreateEdge(ctx context.Context, link types.ResourceLink) error {
	if !a.Available() {
		return ltmcerrors.Unavailable("graph backend unavailable")
	}

	label, err := sanitizeLinkType(link.LinkType)
	if err != nil {
		return err
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MERGE (a:Resource {id: $source_id})
		MERGE (b:Resource {id: $target_id})
		MERGE (a)-[rel:%s]->(b)
		SET rel.weight = $weight`, label)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		_, err := tx.Run(ctx, query, map[string]interface{}{
			"source_id": link.SourceResourceID,
			"target_id": link.TargetResourceID,
			"weight":    link.Weight,
		})
		return nil, err
	})
	if err != nil {
		a.available.Store(false)
		return ltmcerrors.Storage(ltmcerrors.BackendGraph, err)
	}
	return nil
}

// Neighbors returns the direct successors of a resource node, optionally
// restricted to one edge type.
func (a *Adapter) Neighbors(ctx context.Context, resourceID int64, linkType string) ([]types.GraphEdge, error) {
	if !a.Available() {
		return nil, ltmcerrors.Unavailable("graph backend unavailable")
	}

	pattern := "[rel]"
	if linkType != "" {
		label, err := sanitizeLinkType(linkType)
		if err != nil {
			return nil, err
		}
		pattern = fmt.Sprintf("[rel:%s]", label)
	}

	query := fmt.Sprintf(`
		MATCH (a:Resource {id: $id})-%s->(b:Resource)
		RETURN b.id as target_id, type(rel) as rel_type, rel.weight as weight`, pattern)

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": resourceID})
		if err != nil {
			return nil, err
		}

		var edges []types.GraphEdge
		for res.Next(ctx) {
			rec := res.Record()
			targetID, _ := rec.Get("target_id")
			relType, _ := rec.Get("rel_type")
			weight, _ := rec.Get("weight")

			edge := types.GraphEdge{SourceResourceID: resourceID}
			if v, ok := targetID.(int64); ok {
				edge.TargetResourceID = v
			}
			if v, ok := relType.(string); ok {
				edge.LinkType = v
			}
			if v, ok := weight.(float64); ok {
				edge.Weight = v
			}
			edges = append(edges, edge)
		}
		return edges, res.Err()
	})
	if err != nil {
		a.available.Store(false)
		return nil, ltmcerrors.Storage(ltmcerrors.BackendGraph, err)
	}
	return result.([]types.GraphEdge), nil
}

// Query runs an arbitrary read-only Cypher statement with parameters,
// for the graph tool's "query" action (§4.7). Only read transactions are
// permitted through this path — mutation stays behind UpsertResourceNode
// and CreateEdge so the edge-type sanitization rule can't be bypassed.
func (a *Adapter) Query(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	if !a.Available() {
		return nil, ltmcerrors.Unavailable("graph backend unavailable")
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		var rows []map[string]interface{}
		for res.Next(ctx) {
			rec := res.Record()
			row := make(map[string]interface{}, len(rec.Keys))
			for _, k := range rec.Keys {
				v, _ := rec.Get(k)
				row[k] = v
			}
			rows = append(rows, row)
		}
		return rows, res.Err()
	})
	if err != nil {
		a.available.Store(false)
		return nil, ltmcerrors.Storage(ltmcerrors.BackendGraph, err)
	}
	return result.([]map[string]interface{}), nil
}

// AllEdges lists every Resource-to-Resource edge in the graph, used by
// the consistency sweep (§4.1.1) to find edges with no backing
// ResourceLink row.
func (a *Adapter) AllEdges(ctx context.Context) ([]types.GraphEdge, error) {
	if !a.Available() {
		return nil, ltmcerrors.Unavailable("graph backend unavailable")
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (a:Resource)-[rel]->(b:Resource)
			RETURN a.id as source_id, b.id as target_id, type(rel) as rel_type, rel.weight as weight`, nil)
		if err != nil {
			return nil, err
		}

		var edges []types.GraphEdge
		for res.Next(ctx) {
			rec := res.Record()
			sourceID, _ := rec.Get("source_id")
			targetID, _ := rec.Get("target_id")
			relType, _ := rec.Get("rel_type")
			weight, _ := rec.Get("weight")

			var edge types.GraphEdge
			if v, ok := sourceID.(int64); ok {
				edge.SourceResourceID = v
			}
			if v, ok := targetID.(int64); ok {
				edge.TargetResourceID = v
			}
			if v, ok := relType.(string); ok {
				edge.LinkType = v
			}
			if v, ok := weight.(float64); ok {
				edge.Weight = v
			}
			edges = append(edges, edge)
		}
		return edges, res.Err()
	})
	if err != nil {
		a.available.Store(false)
		return nil, ltmcerrors.Storage(ltmcerrors.BackendGraph, err)
	}
	return result.([]types.GraphEdge), nil
}

// DeleteEdge removes a single typed edge, used by the consistency sweep
// to drop edges that have no corresponding ResourceLink row.
func (a *Adapter) DeleteEdge(ctx context.Context, sourceID, targetID int64, linkType string) error {
	if !a.Available() {
		return ltmcerrors.Unavailable("graph backend unavailable")
	}

	label, err := sanitizeLinkType(linkType)
	if err != nil {
		return err
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a:Resource {id: $source_id})-[rel:%s]->(b:Resource {id: $target_id})
		DELETE rel`, label)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		_, err := tx.Run(ctx, query, map[string]interface{}{
			"source_id": sourceID,
			"target_id": targetID,
		})
		return nil, err
	})
	if err != nil {
		a.available.Store(false)
		return ltmcerrors.Storage(ltmcerrors.BackendGraph, err)
	}
	return nil
}

// Close releases the driver.
func (a *Adapter) Close(ctx context.Context) error {
	return a.driver.Close(ctx)
}
