package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltmc/pkg/mcp/protocol"
)

// blockingHandler delays only the first request so that, under a worker
// pool, faster later requests would finish first if responses were not
// re-ordered back to arrival order.
type blockingHandler struct {
	mu      sync.Mutex
	started []string
}

func (h *blockingHandler) HandleRequest(_ context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	id := fmt.Sprintf("%v", req.ID)

	h.mu.Lock()
	h.started = append(h.started, id)
	h.mu.Unlock()

	// The first request sleeps; later ones return immediately, so a
	// naive completion-order writer would emit them out of sequence.
	if id == "1" {
		time.Sleep(30 * time.Millisecond)
	}

	return &protocol.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{"echo": id}}
}

func requestLine(id int) string {
	req := protocol.JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: "tools/list"}
	b, _ := json.Marshal(req)
	return string(b)
}

func TestStdioTransportPreservesRequestOrderUnderConcurrency(t *testing.T) {
	lines := []string{requestLine(1), requestLine(2), requestLine(3)}
	input := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var output bytes.Buffer

	tr := NewStdioTransportWithConcurrency(input, &output, 4)
	handler := &blockingHandler{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx, handler))

	scanner := bufio.NewScanner(&output)
	var ids []string
	for scanner.Scan() {
		var resp protocol.JSONRPCResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		ids = append(ids, fmt.Sprintf("%v", resp.ID))
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestStdioTransportHandlesParseErrors(t *testing.T) {
	input := strings.NewReader("{not json}\n" + requestLine(1) + "\n")
	var output bytes.Buffer

	tr := NewStdioTransportWithIO(input, &output)
	handler := &blockingHandler{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx, handler))

	scanner := bufio.NewScanner(&output)
	require.True(t, scanner.Scan())
	var first protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &first))
	require.NotNil(t, first.Error)
	assert.Equal(t, protocol.ParseError, first.Error.Code)

	require.True(t, scanner.Scan())
	var second protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &second))
	assert.Nil(t, second.Error)
}

func TestStdioTransportDefaultConcurrencyIsOne(t *testing.T) {
	tr := NewStdioTransportWithIO(strings.NewReader(""), &bytes.Buffer{})
	assert.Equal(t, 1, tr.concurrency)
}
