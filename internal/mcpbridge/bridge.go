// Package mcpbridge exposes a tool registry over the Model Context Protocol so
// that MCP clients can list and call the same tools the chat dispatcher offers
// to the model.
package mcpbridge

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/metrics"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Bridge serves a tools.Registry as an MCP server.
type Bridge struct {
	registry *tools.Registry
	server   *server.MCPServer
	metrics  *metrics.Recorder

	mu      sync.Mutex
	exposed map[string]struct{}
}

// New creates a Bridge and exposes every tool currently in registry.
func New(registry *tools.Registry, name, version string, rec *metrics.Recorder) *Bridge {
	b := &Bridge{
		registry: registry,
		server: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		metrics: rec,
		exposed: make(map[string]struct{}),
	}
	b.Sync()
	return b
}

// Server returns the underlying MCP server.
func (b *Bridge) Server() *server.MCPServer {
	return b.server
}

// Sync exposes registry tools not yet known to the MCP server. Redefined
// tools keep their MCP entry; the handler always dispatches through the
// registry by name.
func (b *Bridge) Sync() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var added []server.ServerTool
	for _, spec := range b.registry.Specs() {
		if _, ok := b.exposed[spec.Name]; ok {
			continue
		}
		tool, err := toMCPTool(spec)
		if err != nil {
			continue
		}
		added = append(added, server.ServerTool{Tool: tool, Handler: b.handle})
		b.exposed[spec.Name] = struct{}{}
	}
	if len(added) > 0 {
		b.server.AddTools(added...)
	}
	return len(added)
}

func (b *Bridge) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	log := ctrllog.FromContext(ctx).WithName("mcp-bridge")
	name := req.Params.Name

	args := req.GetArguments()
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	outcome, err := b.registry.Invoke(ctx, tools.Call{Name: name, Arguments: string(raw)})
	b.metrics.ToolInvocation(name, err)
	if err != nil {
		log.Info("Tool call failed", "tool", name, "error", err.Error())
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(outcome.Tools) > 0 {
		n := b.Sync()
		log.V(1).Info("Exposed discovered tools", "tool", name, "count", n)
	}
	return mcp.NewToolResultText(outcome.Text), nil
}

// Serve runs the bridge over stdio-style streams until ctx is done or in
// reaches EOF.
func (b *Bridge) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(b.server).Listen(ctx, in, out)
}

func toMCPTool(spec tools.Spec) (mcp.Tool, error) {
	schema := emptyObjectSchema
	if len(spec.Parameters) > 0 {
		data, err := json.Marshal(spec.Parameters)
		if err != nil {
			return mcp.Tool{}, err
		}
		schema = data
	}
	return mcp.NewToolWithRawSchema(spec.Name, spec.Description, schema), nil
}
