// Package mcpaction implements [action.Dispatcher] on top of an external
// Model Context Protocol tool server.
//
// The dispatcher connects once (stdio subprocess or streamable-HTTP) using
// the official MCP Go SDK and forwards each action name as a parameter-less
// tool call. This is the production action executor: the robot controller,
// home-automation bridge, or whatever else owns the side effects runs as an
// MCP server and stays out of the voice engine's process.
package mcpaction

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voicewire/pkg/action"
)

// Transport selects the connection mechanism to the MCP server.
type Transport string

const (
	// TransportStdio launches the server as a subprocess speaking MCP on
	// stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a remote MCP endpoint.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// Config describes how to reach the MCP action server.
type Config struct {
	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable (with optional arguments) launched when
	// Transport is stdio. Ignored for streamable-http.
	Command string

	// URL is the MCP endpoint address used when Transport is
	// streamable-http. Ignored for stdio.
	URL string
}

// Dispatcher is an [action.Dispatcher] backed by a single MCP server
// session. Safe for concurrent use; the engine serialises calls anyway.
type Dispatcher struct {
	mu      sync.Mutex
	session *mcpsdk.ClientSession
	closed  bool
}

// Compile-time assertion that Dispatcher satisfies the action interface.
var _ action.Dispatcher = (*Dispatcher)(nil)

// Connect establishes the MCP session described by cfg.
// The caller owns the Dispatcher and must call Close.
func Connect(ctx context.Context, cfg Config) (*Dispatcher, error) {
	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("mcpaction: stdio transport requires a non-empty command")
		}
		transport = &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, executable, args...)}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcpaction: streamable-http transport requires a non-empty url")
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return nil, fmt.Errorf("mcpaction: unknown transport %q", cfg.Transport)
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "voicewire", Version: "1.0.0"},
		nil,
	)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpaction: connect: %w", err)
	}

	return &Dispatcher{session: session}, nil
}

// Dispatch implements [action.Dispatcher]. It calls the tool named name with
// no arguments and returns the concatenated text content of the result.
// Tool-level failures (IsError results) come back as a [*action.DispatchError].
func (d *Dispatcher) Dispatch(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	session := d.session
	closed := d.closed
	d.mu.Unlock()

	if closed {
		return "", &action.DispatchError{Name: name, Err: fmt.Errorf("dispatcher closed")}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: map[string]any{},
	})
	if err != nil {
		return "", &action.DispatchError{Name: name, Err: err}
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", &action.DispatchError{Name: name, Err: fmt.Errorf("tool reported error: %s", sb.String())}
	}
	return sb.String(), nil
}

// Close terminates the MCP session. Idempotent.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.session.Close()
}

// splitCommand splits a command line on spaces into executable + args.
// Quoting is not supported; configure complex invocations via a wrapper
// script.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
