// Package driving holds the interfaces the CLI, TUI and MCP server call:
// indexing control, queries, integrity repair, document inspection and the
// maintenance scheduler. The services package implements them.
package driving
