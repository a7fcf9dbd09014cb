package dispatch

import (
	"context"
	"fmt"

	"ltmc/internal/coordinator"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/retrieval"
	"ltmc/internal/types"
	"ltmc/pkg/mcp/protocol"
)

type chatOp interface{ isChatOp() }

type chatLogOp struct {
	ConversationID string
	Role           types.Role
	Content        string
	SourceTool     string
}

type chatContextOp struct {
	Query          string
	ConversationID string
	TopK           int
}

type chatByToolOp struct {
	ConversationID string
	SourceTool     string
	Limit          int
}

func (chatLogOp) isChatOp()     {}
func (chatContextOp) isChatOp() {}
func (chatByToolOp) isChatOp()  {}

func parseChatOp(params map[string]interface{}) (chatOp, error) {
	action, err := actionOf(params)
	if err != nil {
		return nil, err
	}

	switch action {
	case "log":
		conversationID, err := requiredStr(params, "conversation_id")
		if err != nil {
			return nil, err
		}
		content, err := requiredStr(params, "content")
		if err != nil {
			return nil, err
		}
		role := types.Role(strVal(params, "role"))
		if role == "" {
			role = types.RoleUser
		}
		return chatLogOp{ConversationID: conversationID, Role: role, Content: content, SourceTool: strVal(params, "source_tool")}, nil

	case "context":
		query, err := requiredStr(params, "query")
		if err != nil {
			return nil, err
		}
		conversationID := strVal(params, "conversation_id")
		if conversationID == "" {
			conversationID = coordinator.NewConversationID()
		}
		return chatContextOp{Query: query, ConversationID: conversationID, TopK: intVal(params, "top_k", 10)}, nil

	case "by_tool":
		conversationID, err := requiredStr(params, "conversation_id")
		if err != nil {
			return nil, err
		}
		return chatByToolOp{ConversationID: conversationID, SourceTool: strVal(params, "source_tool"), Limit: intVal(params, "limit", 50)}, nil

	default:
		return nil, ltmcerrors.Validation("unknown chat action %q", action)
	}
}

// ChatTool returns the protocol.Tool definition and handler for the chat
// action tool: log, context, by_tool.
func ChatTool(c *coordinator.Coordinator, p *retrieval.Pipeline) (protocol.Tool, protocol.ToolHandlerFunc) {
	tool := protocol.Tool{
		Name:        "chat",
		Description: "Record conversation turns and retrieve answers grounded in stored context.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action":          map[string]interface{}{"type": "string", "enum": []string{"log", "context", "by_tool"}},
				"conversation_id": map[string]interface{}{"type": "string"},
				"role":            map[string]interface{}{"type": "string"},
				"content":         map[string]interface{}{"type": "string"},
				"source_tool":     map[string]interface{}{"type": "string"},
				"query":           map[string]interface{}{"type": "string"},
				"top_k":           map[string]interface{}{"type": "integer"},
				"limit":           map[string]interface{}{"type": "integer"},
			},
			"required": []string{"action"},
		},
	}

	handler := protocol.ToolHandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		op, err := parseChatOp(params)
		if err != nil {
			return fail(err), nil
		}

		switch a := op.(type) {
		case chatLogOp:
			res, err := c.LogChat(ctx, a.ConversationID, a.Role, a.Content, a.SourceTool)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"message_id": res.MessageID}), nil

		case chatContextOp:
			res, err := p.AskWithContext(ctx, a.Query, a.ConversationID, a.TopK)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{
				"message_id":     res.MessageID,
				"chunks":         res.Chunks,
				"linked_chunk_ids": res.LinkedIDs,
			}), nil

		case chatByToolOp:
			messages, err := c.Store().ChatByTool(ctx, a.ConversationID, a.SourceTool, a.Limit)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"messages": messages}), nil

		default:
			return fail(ltmcerrors.Internal(fmt.Errorf("unhandled chat op %T", a))), nil
		}
	})

	return tool, handler
}
