package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
)

// AddTodo inserts a new pending Todo and returns its id.
func (s *Store) AddTodo(ctx context.Context, title, description string, priority types.Priority, createdAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (title, description, priority, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		title, description, string(priority), string(types.TodoPending), createdAt)
	if err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return res.LastInsertId()
}

// CompleteTodo marks a pending Todo completed, stamping completedAt. It
// reports NotFound if no such todo exists.
func (s *Store) CompleteTodo(ctx context.Context, id int64, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE todos SET status = ?, completed_at = ? WHERE id = ?`,
		string(types.TodoCompleted), completedAt, id)
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	if n == 0 {
		return ltmcerrors.NotFound("todo %d not found", id)
	}
	return nil
}

// SearchTodos filters by status and/or priority; either may be empty to
// mean "any".
func (s *Store) SearchTodos(ctx context.Context, status types.TodoStatus, priority types.Priority, limit int) ([]types.Todo, error) {
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []interface{}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	if priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(priority))
	}

	query := `SELECT id, title, description, priority, status, created_at, completed_at FROM todos`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	var out []types.Todo
	for rows.Next() {
		var t types.Todo
		var pr, st string
		var desc sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Title, &desc, &pr, &st, &t.CreatedAt, &completedAt); err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		t.Description = desc.String
		t.Priority = types.Priority(pr)
		t.Status = types.TodoStatus(st)
		if completedAt.Valid {
			ts := completedAt.Time
			t.CompletedAt = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
