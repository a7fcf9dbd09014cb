package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"ltmc/pkg/mcp/protocol"
)

// StdioTransport is LTMC's sole wire transport (§4.7): newline-delimited
// JSON-RPC over stdin/stdout. Stream hygiene is critical here — stdout
// carries only framed JSON-RPC responses, never a log line, so the
// caller (cmd/ltmc-server) must silence every stdout-writing dependency
// before Start is ever called.
//
// The read loop itself is single-flow (§5: "the MCP protocol loop is
// single-flow"), but request handling is fanned out to a bounded worker
// pool sized by concurrency, with responses serialized back onto stdout
// in request arrival order regardless of which worker finishes first
// (§4.7 "Concurrency", §5 "responses are serialized back onto the
// stdout stream in request-id order").
type StdioTransport struct {
	input       io.Reader
	output      io.Writer
	scanner     *bufio.Scanner
	encoder     *json.Encoder
	mutex       sync.Mutex
	running     bool
	concurrency int
}

// maxLineSize bounds a single JSON-RPC frame. A stored resource's full
// content can exceed bufio.Scanner's 64KB default token size, so the
// buffer is grown well past any single chunk plus its JSON envelope.
const maxLineSize = 16 * 1024 * 1024

// NewStdioTransport creates a new stdio transport with a single in-flight
// request, matching the pre-worker-pool default.
func NewStdioTransport() *StdioTransport {
	return NewStdioTransportWithIO(os.Stdin, os.Stdout)
}

// NewStdioTransportWithIO creates a new stdio transport with custom IO
// and no worker fan-out (concurrency 1).
func NewStdioTransportWithIO(input io.Reader, output io.Writer) *StdioTransport {
	return NewStdioTransportWithConcurrency(input, output, 1)
}

// NewStdioTransportWithConcurrency creates a stdio transport whose
// request handling is bounded by a worker pool of the given size
// (§5 max_concurrent_operations). concurrency <= 0 is treated as 1.
func NewStdioTransportWithConcurrency(input io.Reader, output io.Writer, concurrency int) *StdioTransport {
	if concurrency <= 0 {
		concurrency = 1
	}
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StdioTransport{
		input:       input,
		output:      output,
		scanner:     scanner,
		encoder:     json.NewEncoder(output),
		concurrency: concurrency,
	}
}

// pendingResponse carries one in-flight request's eventual response
// through the ordering queue: the read loop pushes one per request in
// arrival order, a worker fills in resp once HandleRequest returns, and
// the writer goroutine drains the queue strictly in that order.
type pendingResponse struct {
	resp chan *protocol.JSONRPCResponse
}

// Start starts the stdio transport. The read loop stays single-flow —
// one line read at a time — while request handling runs on up to
// t.concurrency workers; the writer goroutine emits responses in the
// same order requests were read, never in completion order.
func (t *StdioTransport) Start(ctx context.Context, handler RequestHandler) error {
	t.mutex.Lock()
	if t.running {
		t.mutex.Unlock()
		return fmt.Errorf("transport already running")
	}
	t.running = true
	t.mutex.Unlock()

	defer func() {
		t.mutex.Lock()
		t.running = false
		t.mutex.Unlock()
	}()

	sem := make(chan struct{}, t.concurrency)
	queue := make(chan *pendingResponse, 1024)
	var wg sync.WaitGroup

	writeErrCh := make(chan error, 1)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for pr := range queue {
			resp := <-pr.resp
			if resp == nil {
				continue
			}
			if err := t.sendResponse(resp); err != nil {
				select {
				case writeErrCh <- err:
				default:
				}
				return
			}
		}
	}()

	readErr := t.readLoop(ctx, handler, sem, queue, &wg)

	close(queue)
	wg.Wait()
	<-writerDone

	select {
	case err := <-writeErrCh:
		return err
	default:
	}
	return readErr
}

func (t *StdioTransport) readLoop(ctx context.Context, handler RequestHandler, sem chan struct{}, queue chan *pendingResponse, wg *sync.WaitGroup) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return fmt.Errorf("scanning input: %w", err)
			}
			return nil // EOF
		}

		line := t.scanner.Text()
		if line == "" {
			continue
		}

		var req protocol.JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			pr := &pendingResponse{resp: make(chan *protocol.JSONRPCResponse, 1)}
			queue <- pr
			pr.resp <- &protocol.JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   protocol.NewJSONRPCError(protocol.ParseError, "Parse error", err.Error()),
			}
			continue
		}

		pr := &pendingResponse{resp: make(chan *protocol.JSONRPCResponse, 1)}
		queue <- pr

		sem <- struct{}{}
		wg.Add(1)
		go func(req protocol.JSONRPCRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			pr.resp <- handler.HandleRequest(ctx, &req)
		}(req)
	}
}

// Stop stops the stdio transport
func (t *StdioTransport) Stop() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.running = false
	return nil
}

// sendResponse sends a JSON-RPC response
func (t *StdioTransport) sendResponse(resp *protocol.JSONRPCResponse) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if err := t.encoder.Encode(resp); err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}

	return nil
}

// IsRunning returns whether the transport is running
func (t *StdioTransport) IsRunning() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.running
}