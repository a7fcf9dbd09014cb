package dispatch

import (
	"ltmc/internal/coordinator"
	"ltmc/internal/retrieval"
	"ltmc/pkg/mcp/protocol"
	"ltmc/pkg/mcp/server"
)

// Register wires every action tool into s: memory, chat, todo, pattern,
// graph, cache.
func Register(s *server.Server, c *coordinator.Coordinator, p *retrieval.Pipeline) {
	addTool(s, MemoryTool(c, p))
	addTool(s, ChatTool(c, p))
	addTool(s, TodoTool(c))
	addTool(s, PatternTool(c))
	addTool(s, GraphTool(c, p))
	addTool(s, CacheTool(c))
}

func addTool(s *server.Server, tool protocol.Tool, handler protocol.ToolHandlerFunc) {
	s.AddTool(tool, handler)
}
