package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mattn/go-sqlite3"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
)

// CreateResourceLink inserts a typed edge between two resources. It
// reports AlreadyExists if the (source, target, link_type) triple is
// already present, and NotFound if either resource doesn't exist (the
// foreign keys are enforced, surfacing as a constraint violation too,
// so both cases are distinguished by inspecting the referenced rows
// first).
func (s *Store) CreateResourceLink(ctx context.Context, link types.ResourceLink) (int64, error) {
	if _, err := s.GetResource(ctx, link.SourceResourceID); err != nil {
		return 0, err
	}
	if _, err := s.GetResource(ctx, link.TargetResourceID); err != nil {
		return 0, err
	}

	var metadataJSON []byte
	if len(link.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(link.Metadata)
		if err != nil {
			return 0, ltmcerrors.Validation("encoding resource link metadata: %v", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_links (source_resource_id, target_resource_id, link_type, created_at, metadata, weight)
		VALUES (?, ?, ?, ?, ?, ?)`,
		link.SourceResourceID, link.TargetResourceID, link.LinkType, link.CreatedAt, nullableBytes(metadataJSON), weightOrDefault(link.Weight))
	if err != nil {
		if isUniqueConstraint(err) {
			return 0, ltmcerrors.AlreadyExists("link %s already exists between resources %d and %d",
				link.LinkType, link.SourceResourceID, link.TargetResourceID)
		}
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return res.LastInsertId()
}

// DeleteResourceLink removes one edge by id.
func (s *Store) DeleteResourceLink(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resource_links WHERE id = ?`, id)
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	if n == 0 {
		return ltmcerrors.NotFound("resource link %d not found", id)
	}
	return nil
}

// LinksBySource lists every outgoing edge from a resource — used by the
// graph adapter's degraded-mode neighbor fallback when Neo4j is down.
func (s *Store) LinksBySource(ctx context.Context, resourceID int64) ([]types.ResourceLink, error) {
	return s.queryLinks(ctx, `WHERE source_resource_id = ?`, resourceID)
}

// LinksByTarget lists every incoming edge to a resource.
func (s *Store) LinksByTarget(ctx context.Context, resourceID int64) ([]types.ResourceLink, error) {
	return s.queryLinks(ctx, `WHERE target_resource_id = ?`, resourceID)
}

// AllResourceLinks lists every edge, used to rebuild the graph adapter
// from relational truth after an outage.
func (s *Store) AllResourceLinks(ctx context.Context) ([]types.ResourceLink, error) {
	return s.queryLinks(ctx, "")
}

func (s *Store) queryLinks(ctx context.Context, where string, args ...interface{}) ([]types.ResourceLink, error) {
	query := `SELECT id, source_resource_id, target_resource_id, link_type, created_at, metadata, weight FROM resource_links ` + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	var out []types.ResourceLink
	for rows.Next() {
		var l types.ResourceLink
		var metadata sql.NullString
		if err := rows.Scan(&l.ID, &l.SourceResourceID, &l.TargetResourceID, &l.LinkType, &l.CreatedAt, &metadata, &l.Weight); err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &l.Metadata); err != nil {
				return nil, ltmcerrors.Internal(err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func isUniqueConstraint(err error) bool {
	sqliteErr, ok := err.(sqlite3.Error)
	return ok && sqliteErr.Code == sqlite3.ErrConstraint
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func weightOrDefault(w float64) float64 {
	if w == 0 {
		return 1.0
	}
	return w
}
