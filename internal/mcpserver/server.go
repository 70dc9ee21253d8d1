// Package mcpserver exposes the assessment and generation pipeline as MCP
// tools for agent clients.
package mcpserver

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"briefline/internal/app"
	"briefline/internal/engine"
)

// Config wires the tools to one project of a workspace.
type Config struct {
	Engine    engine.Engine
	ProjectID string
	ActorID   string
	Keys      app.KeyResolver
	Logger    *zap.Logger
	Version   string
}

// New creates an MCP server with every tool registered.
func New(cfg Config) *mcp.Server {
	if cfg.ActorID == "" {
		cfg.ActorID = "mcp-agent"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	t := &Tools{cfg: cfg}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "briefline",
		Version: cfg.Version,
	}, nil)

	// Briefs
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "submit_brief",
		Description: "Store a new business brief (submitted unless draft is set)",
	}, t.SubmitBrief)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_briefs",
		Description: "List briefs of the project with an optional status filter",
	}, t.ListBriefs)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "assess_brief_quality",
		Description: "Grade a brief field by field (green, amber, red). A stored brief is recorded and routed; inline fields are only graded",
	}, t.AssessBriefQuality)

	// Hierarchy
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "generate_children",
		Description: "Generate and save the children of a brief, Initiative, Feature or Epic",
	}, t.GenerateChildren)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_items",
		Description: "List Initiatives, Features, Epics or Stories filtered by level, parent or status",
	}, t.ListItems)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "trace_item",
		Description: "Ancestor chain of an item, from its brief down to the item",
	}, t.TraceItem)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "parse_structured_output",
		Description: "Parse raw model output into item records, recovering fenced, wrapped or malformed JSON",
	}, t.ParseStructuredOutput)

	return srv
}
