package dispatch

import (
	"context"
	"fmt"

	"ltmc/internal/coordinator"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
	"ltmc/pkg/mcp/protocol"
)

type todoOp interface{ isTodoOp() }

type todoAddOp struct {
	Title       string
	Description string
	Priority    types.Priority
}

type todoCompleteOp struct {
	ID int64
}

// todoSearchOp backs both "list" (no filters) and "search" (status
// and/or priority filters): list is search with both fields empty.
type todoSearchOp struct {
	Status   types.TodoStatus
	Priority types.Priority
	Limit    int
}

func (todoAddOp) isTodoOp()      {}
func (todoCompleteOp) isTodoOp() {}
func (todoSearchOp) isTodoOp()   {}

func parseTodoOp(params map[string]interface{}) (todoOp, error) {
	action, err := actionOf(params)
	if err != nil {
		return nil, err
	}

	switch action {
	case "add":
		title, err := requiredStr(params, "title")
		if err != nil {
			return nil, err
		}
		priority := types.Priority(strVal(params, "priority"))
		if priority == "" {
			priority = types.PriorityMedium
		}
		return todoAddOp{Title: title, Description: strVal(params, "description"), Priority: priority}, nil

	case "complete":
		id, err := requiredInt64(params, "id")
		if err != nil {
			return nil, err
		}
		return todoCompleteOp{ID: id}, nil

	case "list":
		return todoSearchOp{Limit: intVal(params, "limit", 50)}, nil

	case "search":
		return todoSearchOp{
			Status:   types.TodoStatus(strVal(params, "status")),
			Priority: types.Priority(strVal(params, "priority")),
			Limit:    intVal(params, "limit", 50),
		}, nil

	default:
		return nil, ltmcerrors.Validation("unknown todo action %q", action)
	}
}

// TodoTool returns the protocol.Tool definition and handler for the
// todo action tool: add, list, complete, search.
func TodoTool(c *coordinator.Coordinator) (protocol.Tool, protocol.ToolHandlerFunc) {
	tool := protocol.Tool{
		Name:        "todo",
		Description: "Track structured tasks alongside stored memory.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action":      map[string]interface{}{"type": "string", "enum": []string{"add", "list", "complete", "search"}},
				"title":       map[string]interface{}{"type": "string"},
				"description": map[string]interface{}{"type": "string"},
				"priority":    map[string]interface{}{"type": "string"},
				"status":      map[string]interface{}{"type": "string"},
				"id":          map[string]interface{}{"type": "integer"},
				"limit":       map[string]interface{}{"type": "integer"},
			},
			"required": []string{"action"},
		},
	}

	handler := protocol.ToolHandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		op, err := parseTodoOp(params)
		if err != nil {
			return fail(err), nil
		}

		switch a := op.(type) {
		case todoAddOp:
			id, err := c.AddTodo(ctx, a.Title, a.Description, a.Priority)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"id": id}), nil

		case todoCompleteOp:
			if err := c.CompleteTodo(ctx, a.ID); err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"id": a.ID, "completed": true}), nil

		case todoSearchOp:
			todos, err := c.SearchTodos(ctx, a.Status, a.Priority, a.Limit)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"todos": todos}), nil

		default:
			return fail(ltmcerrors.Internal(fmt.Errorf("unhandled todo op %T", a))), nil
		}
	})

	return tool, handler
}
