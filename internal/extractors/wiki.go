package extractors

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Extraction methods of the wiki extractor.
const (
	MethodWikiSections = "wiki:sections"
	MethodWikiHTML     = "wiki:html"
)

var (
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	fenceLine   = regexp.MustCompile("^\\s*(```|~~~)")
	imageRef    = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	linkRef     = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	inlineCode  = regexp.MustCompile("`([^`]+)`")
	quoteMarker = regexp.MustCompile(`(?m)^>\s*`)
	ruleLine    = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	listMarker  = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// Wiki handles markdown pages and HTML page exports. Every heading starts a
// section and each chunk records the heading path it came from.
type Wiki struct {
	splitter *chunker.Splitter
}

// NewWiki creates a markdown extractor.
func NewWiki(splitter *chunker.Splitter) *Wiki {
	return &Wiki{splitter: splitter}
}

// Kind returns domain.ContentKindWiki.
func (w *Wiki) Kind() domain.ContentKind { return domain.ContentKindWiki }

// Extensions returns markdown and HTML extensions.
func (w *Wiki) Extensions() []string {
	return []string{".md", ".markdown", ".mdown", ".mkd", ".wiki", ".html", ".htm", ".xhtml"}
}

type section struct {
	path []string
	body strings.Builder
}

// Extract splits the page by heading and then by size.
func (w *Wiki) Extract(_ context.Context, path string, content []byte) (*driven.Extraction, error) {
	if IsBinary(content) {
		return &driven.Extraction{Kind: w.Kind(), Method: MethodGenericBinary}, nil
	}

	text, title, method := string(content), "", MethodWikiSections
	if isHTML(path) {
		text, title = htmlToMarkdown(text)
		method = MethodWikiHTML
	}

	sections := parseSections(text)
	var chunks []driven.ChunkDraft
	for i, s := range sections {
		if title == "" && len(s.path) == 1 && s.level1 {
			title = s.path[0]
		}
		text := stripMarkdown(s.body.String())
		if len(s.path) > 0 {
			heading := s.path[len(s.path)-1]
			if text == "" {
				text = heading
			} else {
				text = heading + "\n\n" + text
			}
		}
		meta := map[string]string{"section": strconv.Itoa(i)}
		if len(s.path) > 0 {
			meta["heading"] = strings.Join(s.path, " > ")
		}
		chunks = append(chunks, drafts(w.splitter.Split(text), meta)...)
	}
	if title == "" {
		title = domain.TitleFromPath(path)
	}

	return &driven.Extraction{
		Kind:   w.Kind(),
		Title:  title,
		Method: method,
		Chunks: chunks,
	}, nil
}

type parsedSection struct {
	section
	level1 bool
}

// parseSections walks the lines of a page, ignoring headings inside fenced
// code blocks.
func parseSections(content string) []*parsedSection {
	var (
		out     []*parsedSection
		stack   []string
		levels  []int
		inFence bool
	)
	cur := &parsedSection{}
	out = append(out, cur)

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if fenceLine.MatchString(line) {
			inFence = !inFence
			continue
		}
		if !inFence {
			if m := headingLine.FindStringSubmatch(line); m != nil {
				level := len(m[1])
				for len(levels) > 0 && levels[len(levels)-1] >= level {
					levels = levels[:len(levels)-1]
					stack = stack[:len(stack)-1]
				}
				levels = append(levels, level)
				stack = append(stack, strings.TrimSpace(m[2]))

				cur = &parsedSection{level1: level == 1}
				cur.path = append([]string(nil), stack...)
				out = append(out, cur)
				continue
			}
		}
		cur.body.WriteString(line)
		cur.body.WriteByte('\n')
	}
	return out
}

// stripMarkdown removes inline formatting but keeps code text.
func stripMarkdown(content string) string {
	content = imageRef.ReplaceAllString(content, "")
	content = linkRef.ReplaceAllString(content, "$1")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = strings.ReplaceAll(content, "**", "")
	content = strings.ReplaceAll(content, "__", "")
	content = quoteMarker.ReplaceAllString(content, "")
	content = ruleLine.ReplaceAllString(content, "")
	content = listMarker.ReplaceAllString(content, "")
	content = blankRuns.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
