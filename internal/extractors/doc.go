// Package extractors turns file bytes into chunk drafts, one extractor per
// content kind. The Registry routes paths by extension and falls back to
// the generic text extractor.
package extractors
