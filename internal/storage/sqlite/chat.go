package sqlite

import (
	"context"
	"database/sql"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
)

// InsertChatMessage records one conversation turn and returns its id.
func (s *Store) InsertChatMessage(ctx context.Context, msg types.ChatMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (conversation_id, role, content, timestamp, source_tool) VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, string(msg.Role), msg.Content, msg.Timestamp, nullableString(msg.SourceTool))
	if err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return res.LastInsertId()
}

// InsertContextLink binds a chat message to a chunk that informed the
// assistant's reply, within tx so it commits atomically with the
// message and any retrieval bookkeeping the caller performs.
func InsertContextLink(ctx context.Context, tx *sql.Tx, messageID, chunkID int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO context_links (message_id, chunk_id) VALUES (?, ?)`, messageID, chunkID)
	if err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return res.LastInsertId()
}

// ChatByTool lists chat messages for a conversation, optionally filtered
// by source_tool, most recent first, capped at limit.
func (s *Store) ChatByTool(ctx context.Context, conversationID, sourceTool string, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if sourceTool == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, conversation_id, role, content, timestamp, source_tool
			 FROM chat_history WHERE conversation_id = ? ORDER BY timestamp DESC LIMIT ?`,
			conversationID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, conversation_id, role, content, timestamp, source_tool
			 FROM chat_history WHERE conversation_id = ? AND source_tool = ? ORDER BY timestamp DESC LIMIT ?`,
			conversationID, sourceTool, limit)
	}
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	defer rows.Close()

	var out []types.ChatMessage
	for rows.Next() {
		var m types.ChatMessage
		var role string
		var srcTool sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Timestamp, &srcTool); err != nil {
			return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
		}
		m.Role = types.Role(role)
		m.SourceTool = srcTool.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// ContextForMessage returns the chunk ids linked to a chat message.
func (s *Store) ContextForMessage(ctx context.Context, messageID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM context_links WHERE message_id = ?`, messageID)
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

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
