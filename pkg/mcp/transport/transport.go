// Package transport implements MCP transport layers. LTMC ships only the
// stdio transport (§4.7): the wire surface is JSON-RPC framed by
// newline-delimited JSON on stdin/stdout, nothing else.
package transport

import (
	"context"

	"ltmc/pkg/mcp/protocol"
)

// Transport defines the interface for MCP transport layers.
type Transport interface {
	Start(ctx context.Context, handler RequestHandler) error
	Stop() error
}

// RequestHandler defines the interface for handling MCP requests.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse
}
