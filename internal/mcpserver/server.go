// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Lightbox catalog and transfer tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/lightbox/internal/assetservice"
	"github.com/starford/lightbox/internal/index"
	"github.com/starford/lightbox/internal/models"
)

const defaultSearchLimit = 50

// Server wraps the MCP server with Lightbox tools.
type Server struct {
	mcp    *server.MCPServer
	db     *index.DB
	assets *assetservice.Service
}

// New creates a new MCP server with all Lightbox tools registered.
func New(db *index.DB, assets *assetservice.Service) *Server {
	s := &Server{db: db, assets: assets}

	s.mcp = server.NewMCPServer(
		"Lightbox",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("search_assets",
		mcp.WithDescription("Search the photo catalog. Results are newest first, grouped by month."),
		mcp.WithString("search", mcp.Description("Substring matched against file names and paths")),
		mcp.WithString("collection", mcp.Description("Restrict to one collection (top-level folder)")),
		mcp.WithArray("kinds", mcp.WithStringItems(), mcp.Description("File extensions to include, e.g. [\"jpg\", \"png\"]")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of assets (default 50)")),
	), s.searchAssets)

	s.mcp.AddTool(mcp.NewTool("list_collections",
		mcp.WithDescription("List collections with their asset counts."),
	), s.listCollections)

	s.mcp.AddTool(mcp.NewTool("save_assets",
		mcp.WithDescription("Copy assets into a destination folder as a background transfer job. "+
			"Returns the job id; poll transfer_status for progress."),
		mcp.WithArray("paths", mcp.Required(), mcp.WithStringItems(), mcp.Description("Absolute asset paths inside the library")),
		mcp.WithString("destination", mcp.Required(), mcp.Description("Absolute destination directory")),
		mcp.WithBoolean("layered", mcp.Description("Copy the layered master of each asset instead of the preview")),
	), s.saveAssets)

	s.mcp.AddTool(mcp.NewTool("transfer_status",
		mcp.WithDescription("Show one transfer job, or all registered jobs when id is omitted."),
		mcp.WithString("id", mcp.Description("Job id returned by save_assets")),
	), s.transferStatus)

	s.mcp.AddTool(mcp.NewTool("cancel_transfer",
		mcp.WithDescription("Cancel a pending or running transfer job."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job id returned by save_assets")),
	), s.cancelTransfer)

	s.mcp.AddTool(mcp.NewTool("resolve_layered",
		mcp.WithDescription("Find the layered master (TIFF/PSD) of each asset, one asset at a time."),
		mcp.WithArray("paths", mcp.Required(), mcp.WithStringItems(), mcp.Description("Absolute asset paths inside the library")),
	), s.resolveLayered)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.FilterState{
		Search:     req.GetString("search", ""),
		Collection: req.GetString("collection", ""),
		Kinds:      req.GetStringSlice("kinds", nil),
	}
	limit := req.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	groups, err := s.db.FetchPage(ctx, filter, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(groups) == 0 {
		return mcp.NewToolResultText("no assets found"), nil
	}
	return jsonResult(groups)
}

func (s *Server) listCollections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cols, err := s.db.Collections()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if cols == nil {
		cols = []index.CollectionInfo{}
	}
	return jsonResult(cols)
}

func (s *Server) saveAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, err := req.RequireStringSlice("paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dest, err := req.RequireString("destination")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.assets.Save(ctx, assetservice.SaveRequest{
		Paths:       paths,
		Destination: dest,
		Layered:     req.GetBool("layered", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"job_id":  res.Handle.ID(),
		"missing": res.Missing,
	})
}

func (s *Server) transferStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	engine := s.assets.Engine()
	id := req.GetString("id", "")
	if id == "" {
		return jsonResult(engine.Jobs())
	}
	job, err := engine.Job(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(job)
}

func (s *Server) cancelTransfer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.assets.Engine().Cancel(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancel requested: %s", id)), nil
}

func (s *Server) resolveLayered(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, err := req.RequireStringSlice("paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	batch, err := s.assets.Resolve(ctx, paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(batch)
}
