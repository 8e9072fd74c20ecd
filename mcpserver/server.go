// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package mcpserver exposes the semantic cache as MCP tools so agent
// clients can reuse cached completions over stdio or an in-process
// transport.
package mcpserver

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/semantic-cache/semanticcache"
)

const (
	serverName    = "semantic-cache-mcp-server"
	serverVersion = "0.1.0"
)

type CacheMCPServer struct {
	mcpServer *mcp.Server
	cache     *semanticcache.Cache
	log       *logrus.Logger
}

func NewServer(cache *semanticcache.Cache, log *logrus.Logger) *CacheMCPServer {
	if log == nil {
		log = logrus.New()
	}

	s := &CacheMCPServer{
		cache: cache,
		log:   log,
	}

	s.mcpServer = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		nil,
	)

	s.registerTools()

	return s
}

// GetMCPServer returns the underlying MCP server for testing purposes
func (s *CacheMCPServer) GetMCPServer() *mcp.Server {
	return s.mcpServer
}

// RunStdio serves MCP over stdin/stdout until the context is canceled or
// the client disconnects.
func (s *CacheMCPServer) RunStdio(ctx context.Context) error {
	s.log.Info("starting MCP server on stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// CreateInMemoryConnection starts the server on one side of an in-memory
// transport pair and returns the client side. Used when the cache is
// embedded in another process.
func (s *CacheMCPServer) CreateInMemoryConnection(ctx context.Context) *mcp.InMemoryTransport {
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	go func() {
		// Recover from panics to prevent silent failures
		defer func() {
			if r := recover(); r != nil {
				s.log.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("MCP server panicked")
			}
		}()

		// The server runs until the transport is closed
		if err := s.mcpServer.Run(ctx, serverTransport); err != nil {
			s.log.WithError(err).Warn("in-memory MCP server stopped")
		}
	}()

	return clientTransport
}

// CachedCompletionArgs is the input for the cached_completion tool.
type CachedCompletionArgs struct {
	Query string `json:"query" jsonschema:"the natural language query to answer"`
}

func (s *CacheMCPServer) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cached_completion",
		Description: "Answer a query, serving a cached response when a semantically similar query was answered before.",
	}, s.handleCachedCompletion)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cache_clear",
		Description: "Remove every entry from the semantic cache.",
	}, s.handleCacheClear)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report the number of entries currently in the semantic cache.",
	}, s.handleCacheStats)
}

func (s *CacheMCPServer) handleCachedCompletion(ctx context.Context, req *mcp.CallToolRequest, args CachedCompletionArgs) (*mcp.CallToolResult, any, error) {
	if args.Query == "" {
		return textError("query cannot be empty"), nil, nil
	}

	result, err := s.cache.Query(ctx, args.Query)
	if err != nil {
		s.log.WithError(err).Error("cached completion failed")
		return textError(err.Error()), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: result.Response},
		},
	}, nil, nil
}

func (s *CacheMCPServer) handleCacheClear(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
	if err := s.cache.Clear(ctx); err != nil {
		s.log.WithError(err).Error("cache clear failed")
		return textError(err.Error()), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "cache cleared"},
		},
	}, nil, nil
}

func (s *CacheMCPServer) handleCacheStats(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
	count, err := s.cache.Count(ctx)
	if err != nil {
		s.log.WithError(err).Error("cache stats failed")
		return textError(err.Error()), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d entries", count)},
		},
	}, nil, nil
}

func textError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + message},
		},
	}
}
