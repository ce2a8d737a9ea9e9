// Package mcp exposes the journey engine to MCP clients over stdio.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"vector/internal/engine"
	"vector/internal/protocols"
)

// ActorID is recorded on every audit entry written through the MCP surface.
const ActorID = "mcp"

type Server struct {
	mcpServer *mcp.Server
	engine    engine.Engine
	protocols protocols.Store
}

func NewServer(e engine.Engine, store protocols.Store, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: "vector", Version: version}, nil),
		engine:    e,
		protocols: store,
	}
	s.registerTools()
	return s
}

// Serve blocks until the stdio session ends or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
