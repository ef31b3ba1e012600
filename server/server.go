package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/trialqa/internal/config"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/resources"
	"github.com/Epistemic-Technology/trialqa/tools"
)

// CreateServer builds the dependencies from cfg and registers every tool and
// resource. The returned Deps must be closed by the caller.
func CreateServer(log logger.Logger, cfg *config.Config) (*mcp.Server, *Deps, error) {
	deps, err := NewDeps(log, cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewMCPServer(log, deps), deps, nil
}

// NewMCPServer registers the tools and resources over existing dependencies.
func NewMCPServer(log logger.Logger, deps *Deps) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "trialqa", Version: "v0.1.0"}, nil)

	pipeline := deps.Pipeline
	store := deps.Store
	qaResourceHandler := resources.NewQAResourceHandler(store)

	mcp.AddTool(server, tools.DocumentQuestionTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.DocumentQuestionQuery) (*mcp.CallToolResult, *tools.DocumentQuestionResponse, error) {
		return tools.DocumentQuestionToolHandler(ctx, req, query, pipeline, log)
	})

	mcp.AddTool(server, tools.CitationsLocateTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.CitationsLocateQuery) (*mcp.CallToolResult, *tools.CitationsLocateResponse, error) {
		return tools.CitationsLocateToolHandler(ctx, req, query, pipeline, log)
	})

	mcp.AddTool(server, tools.QASearchTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.QASearchQuery) (*mcp.CallToolResult, *tools.QASearchResponse, error) {
		return tools.QASearchToolHandler(ctx, req, query, store, log)
	})

	mcp.AddTool(server, tools.QAVerifyTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.QAVerifyQuery) (*mcp.CallToolResult, *tools.QAItemResponse, error) {
		return tools.QAVerifyToolHandler(ctx, req, query, store, log)
	})

	mcp.AddTool(server, tools.QADeleteTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.QAItemQuery) (*mcp.CallToolResult, *tools.QAItemResponse, error) {
		return tools.QADeleteToolHandler(ctx, req, query, store, log)
	})

	if deps.Config != nil && deps.Config.Credentials().Zotero {
		cfg := deps.Config
		mcp.AddTool(server, tools.TrialDocumentsTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.TrialDocumentsQuery) (*mcp.CallToolResult, *tools.TrialDocumentsResponse, error) {
			return tools.TrialDocumentsToolHandler(ctx, req, query, cfg, log)
		})
	}

	if store == nil {
		return server
	}

	// Template for a trial's Q&A log
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "qa://{trialId}",
		Name:        "trial-qa",
		Description: "Saved questions and answers for a trial, newest first, with review counts",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return qaResourceHandler.ReadResource(ctx, req.Params.URI)
	})

	// Template for a single item
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "qa://{trialId}/{itemId}",
		Name:        "trial-qa-item",
		Description: "A saved question and answer with its page citations",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return qaResourceHandler.ReadResource(ctx, req.Params.URI)
	})

	// Trials that already have saved items are listed directly.
	known, err := qaResourceHandler.ListResources(context.Background())
	if err != nil {
		log.Warn("Failed to list saved trials: %v", err)
	}
	for _, r := range known {
		server.AddResource(r, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return qaResourceHandler.ReadResource(ctx, req.Params.URI)
		})
	}

	return server
}
