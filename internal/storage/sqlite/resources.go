package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
)

// InsertResource inserts a Resource row within tx and returns its id.
func InsertResource(ctx context.Context, tx *sql.Tx, fileName string, resourceType types.ResourceType, createdAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO resources (file_name, resource_type, created_at) VALUES (?, ?, ?)`,
		fileName, string(resourceType), createdAt)
	if err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return res.LastInsertId()
}

// ChunkInsert is one chunk row ready to be persisted, already carrying
// its allocated vector id.
type ChunkInsert struct {
	Text     string
	VectorID int64
	Position int
}

// InsertChunks inserts every chunk for resourceID within tx and returns
// their assigned ids in the same order.
func InsertChunks(ctx context.Context, tx *sql.Tx, resourceID int64, chunks []ChunkInsert) ([]int64, error) {
	ids := make([]int64, 0, len(chunks))
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO resource_chunks (resource_id, chunk_text, vector_id, position) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		res, err := stmt.ExecContext(ctx, resourceID, c.Text, c.VectorID, c.Position)
		if err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetResource fetches a Resource by id.
func (s *Store) GetResource(ctx context.Context, id int64) (*types.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_name, resource_type, created_at FROM resources WHERE id = ?`, id)
	var r types.Resource
	var resourceType string
	if err := row.Scan(&r.ID, &r.FileName, &resourceType, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ltmcerrors.NotFound("resource %d not found", id)
		}
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	r.ResourceType = types.ResourceType(resourceType)
	return &r, nil
}

// GetChunksByVectorIDs hydrates chunks (and their parent resources) for a
// set of vector ids in a single batched query, preserving the input
// order and silently dropping ids with no backing row — the caller
// treats a missing row as a garbage vector and schedules cleanup.
func (s *Store) GetChunksByVectorIDs(ctx context.Context, vectorIDs []int64) ([]types.ChunkHydrated, error) {
	if len(vectorIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(vectorIDs))
	args := make([]interface{}, len(vectorIDs))
	for i, id := range vectorIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.resource_id, c.chunk_text, c.vector_id, c.position,
		       r.id, r.file_name, r.resource_type, r.created_at
		FROM resource_chunks c
		JOIN resources r ON r.id = c.resource_id
		WHERE c.vector_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	byVectorID := make(map[int64]types.ChunkHydrated, len(vectorIDs))
	for rows.Next() {
		var ch types.ChunkHydrated
		var resourceType string
		if err := rows.Scan(
			&ch.ID, &ch.ResourceID, &ch.ChunkText, &ch.VectorID, &ch.Position,
			&ch.Resource.ID, &ch.Resource.FileName, &resourceType, &ch.Resource.CreatedAt,
		); err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		ch.Resource.ResourceType = types.ResourceType(resourceType)
		byVectorID[ch.VectorID] = ch
	}
	if err := rows.Err(); err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}

	out := make([]types.ChunkHydrated, 0, len(vectorIDs))
	for _, id := range vectorIDs {
		if ch, ok := byVectorID[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// ChunksByResource returns every chunk belonging to a resource, ordered
// by position, used to re-derive a resource's embedding centroid for
// auto-linking.
func (s *Store) ChunksByResource(ctx context.Context, resourceID int64) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, resource_id, chunk_text, vector_id, position FROM resource_chunks WHERE resource_id = ? ORDER BY position`, resourceID)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	var out []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.ResourceID, &c.ChunkText, &c.VectorID, &c.Position); err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllChunkVectorIDs returns every vector id currently recorded in the
// relational store, used by the consistency sweep.
func (s *Store) AllChunkVectorIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vector_id FROM resource_chunks`)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkChunkOrphaned flags a chunk whose vector disappeared from the
// index (the column doesn't exist in the schema as a boolean; LTMC
// tracks it by setting generation_method to 'orphaned' to avoid a
// migration for a sweep-only concern). Re-embedding is scheduled by the
// caller; this just records that it's needed.
func (s *Store) MarkChunkOrphaned(ctx context.Context, chunkID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE resource_chunks SET generation_method = 'orphaned' WHERE id = ?`, chunkID)
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return nil
}

// OrphanedChunks returns chunks marked orphaned by a prior sweep.
func (s *Store) OrphanedChunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, resource_id, chunk_text, vector_id, position FROM resource_chunks WHERE generation_method = 'orphaned'`)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	var out []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.ResourceID, &c.ChunkText, &c.VectorID, &c.Position); err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		c.Orphaned = true
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteResource removes a Resource and cascades to its Chunks and any
// ContextLinks pointing at those chunks (enforced by the schema's
// ON DELETE CASCADE foreign keys).
func (s *Store) DeleteResource(ctx context.Context, resourceID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, resourceID)
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	if n == 0 {
		return ltmcerrors.NotFound("resource %d not found", resourceID)
	}
	return nil
}
