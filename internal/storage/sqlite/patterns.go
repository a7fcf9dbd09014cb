package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
)

// InsertCodePattern records one code-generation attempt along with the
// vector id reserved for embedding its input_prompt and generated_code,
// within tx so the
// relational row and vector id allocation commit together.
func InsertCodePattern(ctx context.Context, tx *sql.Tx, p types.CodePattern) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO code_patterns
			(function_name, file_name, module_name, input_prompt, generated_code,
			 result, execution_time_ms, error_message, tags, vector_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(p.FunctionName), nullableString(p.FileName), nullableString(p.ModuleName),
		p.InputPrompt, p.GeneratedCode, string(p.Result), p.ExecutionTimeMs,
		nullableString(p.ErrorMessage), nullableString(strings.Join(p.Tags, ",")), p.VectorID, p.CreatedAt)
	if err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return res.LastInsertId()
}

// GetCodePattern fetches one logged pattern by id.
func (s *Store) GetCodePattern(ctx context.Context, id int64) (*types.CodePattern, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, function_name, file_name, module_name, input_prompt, generated_code,
		       result, execution_time_ms, error_message, tags, vector_id, created_at
		FROM code_patterns WHERE id = ?`, id)
	p, err := scanCodePattern(row)
	if err == sql.ErrNoRows {
		return nil, ltmcerrors.NotFound("code pattern %d not found", id)
	}
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return p, nil
}

// ListCodePatterns returns every logged pattern, optionally filtered by
// result, most recent first — the input to the analyze aggregation.
func (s *Store) ListCodePatterns(ctx context.Context, result types.PatternResult, limit int) ([]types.CodePattern, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT id, function_name, file_name, module_name, input_prompt, generated_code,
	                 result, execution_time_ms, error_message, tags, vector_id, created_at
	          FROM code_patterns`
	var args []interface{}
	if result != "" {
		query += ` WHERE result = ?`
		args = append(args, string(result))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	var out []types.CodePattern
	for rows.Next() {
		p, err := scanCodePattern(rows)
		if err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCodePattern(row rowScanner) (*types.CodePattern, error) {
	var p types.CodePattern
	var fn, file, mod, errMsg, tags sql.NullString
	var execMs sql.NullInt64
	var resultStr string
	var createdAt time.Time

	if err := row.Scan(&p.ID, &fn, &file, &mod, &p.InputPrompt, &p.GeneratedCode,
		&resultStr, &execMs, &errMsg, &tags, &p.VectorID, &createdAt); err != nil {
		return nil, err
	}

	p.FunctionName = fn.String
	p.FileName = file.String
	p.ModuleName = mod.String
	p.ErrorMessage = errMsg.String
	p.Result = types.PatternResult(resultStr)
	p.CreatedAt = createdAt
	if execMs.Valid {
		v := execMs.Int64
		p.ExecutionTimeMs = &v
	}
	if tags.Valid && tags.String != "" {
		p.Tags = strings.Split(tags.String, ",")
	}
	return &p, nil
}
