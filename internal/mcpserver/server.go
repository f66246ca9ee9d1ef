// Package mcpserver exposes the platform core as MCP tools over stdio, so
// agents can use memory and planning without going through HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stellarlinkco/aiplatform/internal/platform"
)

const serverName = "aiplatform"

// New creates the MCP server with every platform tool registered.
func New(p *platform.Platform, version string) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Unified AI Platform: key-value memory, task plans, tool catalog and health."),
	)

	t := &tools{platform: p}
	s.AddTool(mcp.NewTool("memory_store",
		mcp.WithDescription("Store a value in platform memory. Overwrites the value of an existing key."),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Memory key"),
		),
		withAnyRequired("value", "Value to remember. Strings, objects, arrays, numbers and booleans are stored as sent."),
	), t.storeMemory)

	s.AddTool(mcp.NewTool("memory_list",
		mcp.WithDescription("List every stored memory entry in insertion order."),
	), t.listMemory)

	s.AddTool(mcp.NewTool("plan_create",
		mcp.WithDescription("Create an immutable execution plan for a task."),
		mcp.WithString("task_description",
			mcp.Required(),
			mcp.Description("What the plan should accomplish"),
		),
		mcp.WithArray("steps",
			mcp.Description("Ordered plan steps, stored as sent (default: empty)"),
		),
	), t.createPlan)

	s.AddTool(mcp.NewTool("plan_list",
		mcp.WithDescription("List every plan in creation order."),
	), t.listPlans)

	s.AddTool(mcp.NewTool("platform_tools",
		mcp.WithDescription("Return the platform's tool catalog."),
	), t.platformTools)

	s.AddTool(mcp.NewTool("platform_capabilities",
		mcp.WithDescription("Return the platform's configured capabilities."),
	), t.capabilities)

	s.AddTool(mcp.NewTool("platform_health",
		mcp.WithDescription("Return platform health, uptime and memory usage."),
	), t.health)

	s.AddTool(mcp.NewTool("platform_demo",
		mcp.WithDescription("Return the platform demo summary."),
	), t.demo)

	return s
}

// withAnyRequired declares a required property with no type restriction.
func withAnyRequired(name, description string) mcp.ToolOption {
	return func(t *mcp.Tool) {
		if t.InputSchema.Properties == nil {
			t.InputSchema.Properties = make(map[string]any)
		}
		t.InputSchema.Properties[name] = map[string]any{"description": description}
		t.InputSchema.Required = append(t.InputSchema.Required, name)
	}
}

// ServeStdio serves s on the given streams until ctx is cancelled or the
// input is closed.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

type tools struct {
	platform *platform.Platform
}

func (t *tools) storeMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	key, err := rawArg(args, "key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := rawArg(args, "value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.platform.StoreMemory(ctx, platform.StoreMemoryInput{Key: key, Value: value})
	return result(res, err)
}

func (t *tools) listMemory(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.platform.GetMemory(ctx)
	return result(res, err)
}

func (t *tools) createPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	task, err := rawArg(args, "task_description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	steps, err := rawArg(args, "steps")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.platform.CreatePlan(ctx, platform.CreatePlanInput{TaskDescription: task, Steps: steps})
	return result(res, err)
}

func (t *tools) listPlans(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.platform.GetPlans(ctx)
	return result(res, err)
}

func (t *tools) platformTools(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.platform.GetTools(), nil)
}

func (t *tools) capabilities(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.platform.GetCapabilities(), nil)
}

func (t *tools) health(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.platform.GetHealth(), nil)
}

func (t *tools) demo(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.platform.GetDemo(), nil)
}

// rawArg re-encodes one argument as JSON. Absent arguments yield nil.
func rawArg(args map[string]any, name string) (json.RawMessage, error) {
	v, ok := args[name]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not JSON-encodable: %v", name, err)
	}
	return data, nil
}

func result(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		if platform.IsValidation(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("internal error: %v", err)), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
