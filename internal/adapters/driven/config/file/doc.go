// Package file provides the TOML configuration store.
//
// Nested tables are read as dot-notation keys ("retrieval.search_breadth").
// SERCHA_* environment variables override file keys on read, and a .env
// file in the working or data directory can supply them.
package file
