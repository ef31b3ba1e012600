package main

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/trialqa/internal/config"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/server"
)

func main() {
	log, err := logger.NewLogger(logger.LogConfig{})
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	log.Info("Starting trialqa MCP server (primary provider: %s)", cfg.Provider)

	srv, deps, err := server.CreateServer(log, cfg)
	if err != nil {
		log.Fatal("Failed to create server: %v", err)
	}
	defer deps.Close()

	if err := srv.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Error("Server failed: %v", err)
	}
}
