// Package mcp exposes the indexer over the Model Context Protocol and
// provides a client for driving a running indexer.
package mcp

import "errors"

// ErrMissingQueryService is returned when the query service is not provided.
var ErrMissingQueryService = errors.New("mcp: query service is required")

// ErrToolFailed wraps an error reported by a remote tool.
var ErrToolFailed = errors.New("mcp: tool failed")
