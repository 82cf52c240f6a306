package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mountFixtureServer connects the mounter to an in-process MCP server over
// in-memory transports and mounts its tools into reg. The fixture exposes
// three tools: shout, fetch_macro_data and always_fail.
func mountFixtureServer(t *testing.T, m *MCPMounter, reg *Registry) int {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "fixture", Version: "0.0.1"}, nil)

	type shoutArgs struct {
		Text string `json:"text"`
	}
	type shoutResult struct {
		Text string `json:"text"`
	}
	mcp.AddTool(server, &mcp.Tool{Name: "shout", Description: "Uppercase the input text"},
		func(ctx context.Context, req *mcp.CallToolRequest, args shoutArgs) (*mcp.CallToolResult, shoutResult, error) {
			return nil, shoutResult{Text: strings.ToUpper(args.Text)}, nil
		})

	type macroArgs struct {
		Region string `json:"region,omitempty"`
	}
	type macroResult struct {
		Source string `json:"source"`
	}
	mcp.AddTool(server, &mcp.Tool{Name: "fetch_macro_data", Description: "Fetch macro data"},
		func(ctx context.Context, req *mcp.CallToolRequest, args macroArgs) (*mcp.CallToolResult, macroResult, error) {
			return nil, macroResult{Source: "remote"}, nil
		})

	type failArgs struct{}
	type failResult struct{}
	mcp.AddTool(server, &mcp.Tool{Name: "always_fail", Description: "Report a tool error"},
		func(ctx context.Context, req *mcp.CallToolRequest, args failArgs) (*mcp.CallToolResult, failResult, error) {
			return nil, failResult{}, errors.New("synthetic failure")
		})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := server.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)

	session, err := m.client.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)

	mounted, err := m.MountSession(context.Background(), reg, "fixture", session)
	require.NoError(t, err)
	return mounted
}

func TestMountSessionMirrorsRemoteTools(t *testing.T) {
	reg := NewRegistry()
	m := NewMCPMounter("marketmind-test", "0.0.1")
	defer m.Close()

	mounted := mountFixtureServer(t, m, reg)
	assert.Equal(t, 3, mounted)
	assert.Equal(t, 3, reg.Len())

	def, ok := reg.Get("shout")
	require.True(t, ok)
	assert.NotEmpty(t, def.Parameters)

	out, err := reg.Call(context.Background(), "shout", `{"text":"hello"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"HELLO"}`, out)
}

func TestMountSessionSkipsNameCollisions(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:        "fetch_macro_data",
		Description: "Built-in macro fetcher",
		Handler: func(ctx context.Context, args string) (string, error) {
			return `{"source":"builtin"}`, nil
		},
	}))

	m := NewMCPMounter("marketmind-test", "0.0.1")
	defer m.Close()

	mounted := mountFixtureServer(t, m, reg)
	assert.Equal(t, 2, mounted)
	assert.Equal(t, 3, reg.Len())

	// The built-in keeps its slot; the remote duplicate is skipped.
	out, err := reg.Call(context.Background(), "fetch_macro_data", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"builtin"}`, out)
}

func TestMountedToolErrorSurfaces(t *testing.T) {
	reg := NewRegistry()
	m := NewMCPMounter("marketmind-test", "0.0.1")
	defer m.Close()

	mountFixtureServer(t, m, reg)

	_, err := reg.Call(context.Background(), "always_fail", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reported error")
	assert.Contains(t, err.Error(), "synthetic failure")
}

func TestMountedToolRejectsMalformedArguments(t *testing.T) {
	reg := NewRegistry()
	m := NewMCPMounter("marketmind-test", "0.0.1")
	defer m.Close()

	mountFixtureServer(t, m, reg)

	_, err := reg.Call(context.Background(), "shout", `{"text":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool arguments")
}

func TestMountRejectsUnknownServerType(t *testing.T) {
	reg := NewRegistry()
	m := NewMCPMounter("marketmind-test", "0.0.1")
	defer m.Close()

	_, err := m.Mount(context.Background(), reg, MCPServerConfig{Name: "scratch", Type: "tcp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown MCP server type")
}

func TestHandlerRequiresConnectedSession(t *testing.T) {
	m := NewMCPMounter("marketmind-test", "0.0.1")

	_, err := m.handler("ghost", "shout")(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
