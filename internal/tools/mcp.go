package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// mcpCallTimeout bounds a single MCP tool call; generous because remote
// servers may themselves call external APIs
const mcpCallTimeout = 60 * time.Second

// MCPServerConfig describes one MCP server to mount tools from
type MCPServerConfig struct {
	Name    string            `json:"name" yaml:"name" mapstructure:"name"`
	Type    string            `json:"type" yaml:"type" mapstructure:"type"` // "internal" (stdio) or "external" (HTTP)
	Command string            `json:"command" yaml:"command" mapstructure:"command"`
	Args    []string          `json:"args" yaml:"args" mapstructure:"args"`
	Env     map[string]string `json:"env" yaml:"env" mapstructure:"env"`
	URL     string            `json:"url" yaml:"url" mapstructure:"url"`
}

// MCPMounter connects to MCP servers and mirrors their tools into a
// Registry, so the scheduler dispatches built-in and remote tools the same
// way. Sessions stay open until Close.
type MCPMounter struct {
	client   *mcp.Client
	sessions map[string]*mcp.ClientSession
	log      zerolog.Logger
}

// NewMCPMounter creates a mounter identifying itself with the given
// client name and version.
func NewMCPMounter(name, version string) *MCPMounter {
	return &MCPMounter{
		client: mcp.NewClient(
			&mcp.Implementation{Name: name, Version: version},
			nil,
		),
		sessions: make(map[string]*mcp.ClientSession),
		log:      log.With().Str("component", "mcp_mounter").Logger(),
	}
}

// Mount connects to a server, lists its tools and registers each into the
// registry. Name collisions are skipped with a warning, not fatal. Returns
// the number of tools mounted.
func (m *MCPMounter) Mount(ctx context.Context, reg *Registry, cfg MCPServerConfig) (int, error) {
	session, err := m.connect(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to MCP server %s: %w", cfg.Name, err)
	}
	return m.MountSession(ctx, reg, cfg.Name, session)
}

// MountSession registers the tools of an already-established session under
// the given server name. Mount uses it after connecting; callers holding
// their own session (in-process servers, tests) can use it directly.
func (m *MCPMounter) MountSession(ctx context.Context, reg *Registry, name string, session *mcp.ClientSession) (int, error) {
	m.sessions[name] = session

	list, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return 0, fmt.Errorf("failed to list tools from %s: %w", name, err)
	}

	mounted := 0
	for _, tool := range list.Tools {
		def := Definition{
			Name:        tool.Name,
			Description: tool.Description,
			Handler:     m.handler(name, tool.Name),
		}
		if tool.InputSchema != nil {
			if schema, err := json.Marshal(tool.InputSchema); err == nil {
				def.Parameters = schema
			}
		}
		if err := reg.Register(def); err != nil {
			m.log.Warn().
				Str("server", name).
				Str("tool", tool.Name).
				Err(err).
				Msg("Skipping MCP tool")
			continue
		}
		mounted++
	}

	m.log.Info().
		Str("server", name).
		Int("tools", mounted).
		Msg("MCP server tools mounted")
	return mounted, nil
}

func (m *MCPMounter) connect(ctx context.Context, cfg MCPServerConfig) (*mcp.ClientSession, error) {
	switch cfg.Type {
	case "internal":
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...) // #nosec G204 command comes from validated config
		for key, val := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, val))
		}
		return m.client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	case "external":
		return m.client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: cfg.URL}, nil)
	default:
		return nil, fmt.Errorf("unknown MCP server type %q", cfg.Type)
	}
}

// handler adapts one remote tool to the registry's Func signature
func (m *MCPMounter) handler(server, tool string) Func {
	return func(ctx context.Context, args string) (string, error) {
		session, ok := m.sessions[server]
		if !ok {
			return "", fmt.Errorf("MCP server %s not connected", server)
		}

		var arguments map[string]interface{}
		if s := strings.TrimSpace(args); s != "" {
			if err := json.Unmarshal([]byte(s), &arguments); err != nil {
				return "", fmt.Errorf("invalid tool arguments: %w", err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
		defer cancel()

		result, err := session.CallTool(callCtx, &mcp.CallToolParams{
			Name:      tool,
			Arguments: arguments,
		})
		if err != nil {
			return "", fmt.Errorf("tool call failed: %w", err)
		}

		text, err := textOf(result)
		if err != nil {
			return "", err
		}
		if result.IsError {
			return "", fmt.Errorf("tool %s reported error: %s", tool, text)
		}
		return text, nil
	}
}

func textOf(result *mcp.CallToolResult) (string, error) {
	if len(result.Content) == 0 {
		return "", fmt.Errorf("empty tool result")
	}
	textContent, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return "", fmt.Errorf("unexpected content type %T", result.Content[0])
	}
	return textContent.Text, nil
}

// Close shuts down every mounted session
func (m *MCPMounter) Close() {
	for name, session := range m.sessions {
		if err := session.Close(); err != nil {
			m.log.Error().Err(err).Str("server", name).Msg("Error closing MCP session")
		}
	}
	m.sessions = make(map[string]*mcp.ClientSession)
}
