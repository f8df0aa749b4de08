package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultAddr is where the serve command listens unless told otherwise.
const DefaultAddr = "127.0.0.1:7821"

// Client drives a running indexer through its MCP tools.
type Client struct {
	session *mcp.ClientSession
}

// Dial connects to an indexer serving streamable HTTP at endpoint.
// A bare host:port is given an http scheme.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return Connect(ctx, &mcp.StreamableClientTransport{Endpoint: endpoint})
}

// Connect opens a client session over transport.
func Connect(ctx context.Context, transport mcp.Transport) (*Client, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    ServerName + "-cli",
		Version: Version,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Client{session: session}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

// QueueStatus returns the remote queue status.
func (c *Client) QueueStatus(ctx context.Context) (StatusOutput, error) {
	return callTool[StatusOutput](ctx, c.session, ToolQueueStatus, StatusInput{})
}

// Pause pauses the remote queue.
func (c *Client) Pause(ctx context.Context) (ControlOutput, error) {
	return callTool[ControlOutput](ctx, c.session, ToolPause, ControlInput{})
}

// Resume resumes the remote queue.
func (c *Client) Resume(ctx context.Context) (ControlOutput, error) {
	return callTool[ControlOutput](ctx, c.session, ToolResume, ControlInput{})
}

// Clear drops every pending item in the remote queue.
func (c *Client) Clear(ctx context.Context) (ControlOutput, error) {
	return callTool[ControlOutput](ctx, c.session, ToolClear, ControlInput{})
}

// Enqueue queues paths on the remote indexer.
func (c *Client) Enqueue(ctx context.Context, paths []string, priority string) (EnqueueOutput, error) {
	return callTool[EnqueueOutput](ctx, c.session, ToolEnqueue, EnqueueInput{Paths: paths, Priority: priority})
}

// Query runs a query on the remote indexer.
func (c *Client) Query(ctx context.Context, input QueryInput) (QueryOutput, error) {
	return callTool[QueryOutput](ctx, c.session, ToolQuery, input)
}

// Integrity runs an integrity check and repair on the remote indexer.
func (c *Client) Integrity(ctx context.Context, dryRun bool) (IntegrityOutput, error) {
	return callTool[IntegrityOutput](ctx, c.session, ToolIntegrity, IntegrityInput{DryRun: dryRun})
}

// callTool invokes a tool and decodes its structured result into T.
func callTool[T any](ctx context.Context, session *mcp.ClientSession, name string, args any) (T, error) {
	var out T

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return out, fmt.Errorf("call %s: %w", name, err)
	}
	if res.IsError {
		return out, fmt.Errorf("%w: %s: %s", ErrToolFailed, name, resultText(res))
	}

	data, err := json.Marshal(res.StructuredContent)
	if err != nil {
		return out, fmt.Errorf("decode %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", name, err)
	}
	return out, nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "; ")
}
