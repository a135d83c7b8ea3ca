package api

import "time"

// Config is the HTTP API server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// ChatWaitTimeout bounds how long POST /api/chat?wait=true blocks.
	// Zero waits until the reply is appended.
	ChatWaitTimeout time.Duration

	// MCP mounts the MCP streamable HTTP endpoint at /mcp.
	MCP bool
}
